package s3

import (
	"fmt"
	"sort"
	"strings"
	"time"

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	log "github.com/sirupsen/logrus"
)

// S3 storage tier constants
const (
	TierStandard          = "STANDARD"
	TierStandardIA        = "STANDARD_IA"
	TierOneZoneIA         = "ONEZONE_IA"
	TierReducedRedundancy = "REDUCED_REDUNDANCY"
	TierGlacierIR         = "GLACIER_IR"
	TierGlacier           = "GLACIER"
	TierDeepArchive       = "DEEP_ARCHIVE"
	TierIntelligent       = "INTELLIGENT_TIERING"
)

// StorageTierInfo contains tier-specific constraints.
type StorageTierInfo struct {
	Name               string        `json:"name"`
	MinObjectSize      int64         `json:"min_object_size"`
	DeletionEmbargo    time.Duration `json:"deletion_embargo"`
	RetrievalLatency   string        `json:"retrieval_latency"`
	RetrievalCost      bool          `json:"retrieval_cost"`
	MinimumStorageDays int           `json:"minimum_storage_days"`
}

// StorageTiers holds the AWS constraints per tier.
var StorageTiers = map[string]StorageTierInfo{
	TierStandard: {
		Name:             "Standard",
		RetrievalLatency: "instant",
	},
	TierStandardIA: {
		Name:               "Standard-Infrequent Access",
		MinObjectSize:      128 * 1024,
		DeletionEmbargo:    30 * 24 * time.Hour,
		RetrievalLatency:   "instant",
		RetrievalCost:      true,
		MinimumStorageDays: 30,
	},
	TierOneZoneIA: {
		Name:               "One Zone-Infrequent Access",
		MinObjectSize:      128 * 1024,
		DeletionEmbargo:    30 * 24 * time.Hour,
		RetrievalLatency:   "instant",
		RetrievalCost:      true,
		MinimumStorageDays: 30,
	},
	TierReducedRedundancy: {
		Name:             "Reduced Redundancy",
		RetrievalLatency: "instant",
	},
	TierGlacierIR: {
		Name:               "Glacier Instant Retrieval",
		MinObjectSize:      128 * 1024,
		DeletionEmbargo:    90 * 24 * time.Hour,
		RetrievalLatency:   "instant",
		RetrievalCost:      true,
		MinimumStorageDays: 90,
	},
	TierGlacier: {
		Name:               "Glacier Flexible Retrieval",
		MinObjectSize:      40 * 1024,
		DeletionEmbargo:    90 * 24 * time.Hour,
		RetrievalLatency:   "minutes-hours",
		RetrievalCost:      true,
		MinimumStorageDays: 90,
	},
	TierDeepArchive: {
		Name:               "Glacier Deep Archive",
		MinObjectSize:      40 * 1024,
		DeletionEmbargo:    180 * 24 * time.Hour,
		RetrievalLatency:   "hours",
		RetrievalCost:      true,
		MinimumStorageDays: 180,
	},
	TierIntelligent: {
		Name:             "Intelligent Tiering",
		MinObjectSize:    128 * 1024,
		RetrievalLatency: "variable",
	},
}

// ValidateTier reports whether name is a known storage tier.
func ValidateTier(name string) error {
	if _, ok := StorageTiers[name]; ok {
		return nil
	}
	known := make([]string, 0, len(StorageTiers))
	for tier := range StorageTiers {
		known = append(known, tier)
	}
	sort.Strings(known)
	return fmt.Errorf("unknown storage tier %q (known: %s)", name, strings.Join(known, ", "))
}

// TierValidator validates operations against storage tier constraints.
type TierValidator struct {
	tier        string
	constraints TierConstraints
	tierInfo    StorageTierInfo
	logger      *log.Entry
}

// NewTierValidator creates a tier validator. Unknown tiers fall back to
// Standard.
func NewTierValidator(tier string, constraints TierConstraints, logger *log.Entry) *TierValidator {
	tierInfo, exists := StorageTiers[tier]
	if !exists {
		tierInfo = StorageTiers[TierStandard]
		tier = TierStandard
	}

	return &TierValidator{
		tier:        tier,
		constraints: constraints,
		tierInfo:    tierInfo,
		logger:      logger,
	}
}

// Tier returns the validated tier name.
func (tv *TierValidator) Tier() string {
	return tv.tier
}

// ValidateWrite validates a write against the tier's minimum object size.
// Small objects are still accepted on IA and Glacier tiers; AWS bills them
// at the minimum, so the validator only warns.
func (tv *TierValidator) ValidateWrite(key string, dataSize int64) error {
	minSize := tv.tierInfo.MinObjectSize
	if tv.constraints.MinObjectSize > 0 {
		minSize = tv.constraints.MinObjectSize
	}

	if minSize > 0 && dataSize < minSize {
		tv.logger.WithFields(log.Fields{
			"tier":     tv.tier,
			"key":      key,
			"size":     dataSize,
			"min_size": minSize,
		}).Debug("object below tier minimum, billed at minimum size")
	}

	return nil
}

// HasDeleteConstraints reports whether deletes need an object age check.
func (tv *TierValidator) HasDeleteConstraints() bool {
	return tv.tierInfo.DeletionEmbargo > 0 || tv.constraints.DeletionEmbargo > 0 ||
		tv.tierInfo.MinimumStorageDays > 0 || tv.constraints.MinimumStorageDays > 0
}

// ValidateDelete validates a delete against the tier's deletion embargo.
func (tv *TierValidator) ValidateDelete(key string, objectAge time.Duration) error {
	embargo := tv.tierInfo.DeletionEmbargo
	if tv.constraints.DeletionEmbargo > 0 {
		embargo = tv.constraints.DeletionEmbargo
	}

	if embargo > 0 && objectAge < embargo {
		return fmt.Errorf("object %s cannot be deleted before %v (current age: %v) due to %s tier constraints",
			key, embargo, objectAge, tv.tier)
	}

	minDays := tv.tierInfo.MinimumStorageDays
	if tv.constraints.MinimumStorageDays > 0 {
		minDays = tv.constraints.MinimumStorageDays
	}
	if minDays > 0 && objectAge < time.Duration(minDays)*24*time.Hour {
		tv.logger.WithFields(log.Fields{
			"tier":         tv.tier,
			"key":          key,
			"age":          objectAge,
			"minimum_days": minDays,
		}).Warn("deleting object before minimum storage period, charges may still apply")
	}

	return nil
}

// GetTierInfo returns information about the current tier.
func (tv *TierValidator) GetTierInfo() StorageTierInfo {
	return tv.tierInfo
}

// ConvertTierToStorageClass converts a tier constant to the AWS SDK storage
// class.
func ConvertTierToStorageClass(tier string) s3types.StorageClass {
	switch tier {
	case TierStandard:
		return s3types.StorageClassStandard
	case TierStandardIA:
		return s3types.StorageClassStandardIa
	case TierOneZoneIA:
		return s3types.StorageClassOnezoneIa
	case TierReducedRedundancy:
		return s3types.StorageClassReducedRedundancy
	case TierGlacierIR:
		return s3types.StorageClassGlacierIr
	case TierGlacier:
		return s3types.StorageClassGlacier
	case TierDeepArchive:
		return s3types.StorageClassDeepArchive
	case TierIntelligent:
		return s3types.StorageClassIntelligentTiering
	default:
		return s3types.StorageClassStandard
	}
}

// ConvertTierToCargoShipStorageClass converts a tier constant to the
// CargoShip storage class used by the transporter.
func ConvertTierToCargoShipStorageClass(tier string) awsconfig.StorageClass {
	switch tier {
	case TierStandard:
		return awsconfig.StorageClassStandard
	case TierStandardIA:
		return awsconfig.StorageClassStandardIA
	case TierOneZoneIA:
		return awsconfig.StorageClassOneZoneIA
	case TierReducedRedundancy:
		// Deprecated tier, no transporter equivalent.
		return awsconfig.StorageClassStandard
	case TierGlacierIR:
		// The transporter has no instant-retrieval class.
		return awsconfig.StorageClassGlacier
	case TierGlacier:
		return awsconfig.StorageClassGlacier
	case TierDeepArchive:
		return awsconfig.StorageClassDeepArchive
	case TierIntelligent:
		return awsconfig.StorageClassIntelligentTiering
	default:
		return awsconfig.StorageClassStandard
	}
}
