package s3

import (
	"io"
	"strings"
	"testing"
	"time"

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	log "github.com/sirupsen/logrus"
)

func testLogEntry() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

func TestStorageTiers(t *testing.T) {
	tests := []struct {
		name            string
		tier            string
		expectedName    string
		expectedMinSize int64
		expectedEmbargo time.Duration
		expectedMinDays int
	}{
		{
			name:         "Standard Tier",
			tier:         TierStandard,
			expectedName: "Standard",
		},
		{
			name:            "Standard-IA Tier",
			tier:            TierStandardIA,
			expectedName:    "Standard-Infrequent Access",
			expectedMinSize: 128 * 1024,
			expectedEmbargo: 30 * 24 * time.Hour,
			expectedMinDays: 30,
		},
		{
			name:            "One Zone-IA Tier",
			tier:            TierOneZoneIA,
			expectedName:    "One Zone-Infrequent Access",
			expectedMinSize: 128 * 1024,
			expectedEmbargo: 30 * 24 * time.Hour,
			expectedMinDays: 30,
		},
		{
			name:            "Glacier Instant Retrieval",
			tier:            TierGlacierIR,
			expectedName:    "Glacier Instant Retrieval",
			expectedMinSize: 128 * 1024,
			expectedEmbargo: 90 * 24 * time.Hour,
			expectedMinDays: 90,
		},
		{
			name:            "Deep Archive",
			tier:            TierDeepArchive,
			expectedName:    "Glacier Deep Archive",
			expectedMinSize: 40 * 1024,
			expectedEmbargo: 180 * 24 * time.Hour,
			expectedMinDays: 180,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tierInfo, exists := StorageTiers[tt.tier]
			if !exists {
				t.Fatalf("Tier %s not found in StorageTiers", tt.tier)
			}

			if tierInfo.Name != tt.expectedName {
				t.Errorf("Expected name %s, got %s", tt.expectedName, tierInfo.Name)
			}

			if tierInfo.MinObjectSize != tt.expectedMinSize {
				t.Errorf("Expected min size %d, got %d", tt.expectedMinSize, tierInfo.MinObjectSize)
			}

			if tierInfo.DeletionEmbargo != tt.expectedEmbargo {
				t.Errorf("Expected embargo %v, got %v", tt.expectedEmbargo, tierInfo.DeletionEmbargo)
			}

			if tierInfo.MinimumStorageDays != tt.expectedMinDays {
				t.Errorf("Expected minimum days %d, got %d", tt.expectedMinDays, tierInfo.MinimumStorageDays)
			}
		})
	}
}

func TestValidateTier(t *testing.T) {
	for tier := range StorageTiers {
		if err := ValidateTier(tier); err != nil {
			t.Errorf("ValidateTier(%s) should accept a known tier: %v", tier, err)
		}
	}

	err := ValidateTier("NEARLINE")
	if err == nil {
		t.Fatal("ValidateTier should reject an unknown tier")
	}
	if !strings.Contains(err.Error(), TierStandard) {
		t.Errorf("Error should list the known tiers, got: %v", err)
	}
}

func TestTierValidator(t *testing.T) {
	logger := testLogEntry()

	t.Run("Standard Tier Validation", func(t *testing.T) {
		validator := NewTierValidator(TierStandard, TierConstraints{}, logger)

		if err := validator.ValidateWrite("test.txt", 1); err != nil {
			t.Errorf("Standard tier should allow 1-byte object: %v", err)
		}

		if err := validator.ValidateDelete("test.txt", 0); err != nil {
			t.Errorf("Standard tier should allow immediate deletion: %v", err)
		}

		if validator.HasDeleteConstraints() {
			t.Error("Standard tier should not require delete age checks")
		}
	})

	t.Run("Standard-IA Tier Validation", func(t *testing.T) {
		validator := NewTierValidator(TierStandardIA, TierConstraints{}, logger)

		// AWS accepts small objects on IA tiers and bills them at the
		// minimum, so writes below the minimum pass with a warning.
		if err := validator.ValidateWrite("small.txt", 1024); err != nil {
			t.Errorf("Small object should be accepted with a warning: %v", err)
		}

		if err := validator.ValidateWrite("large.txt", 128*1024); err != nil {
			t.Errorf("Standard-IA tier should allow 128KB objects: %v", err)
		}

		if err := validator.ValidateDelete("test.txt", 15*24*time.Hour); err == nil {
			t.Error("Standard-IA tier should reject deletion before 30 days")
		}

		if err := validator.ValidateDelete("test.txt", 31*24*time.Hour); err != nil {
			t.Errorf("Standard-IA tier should allow deletion after 30 days: %v", err)
		}

		if !validator.HasDeleteConstraints() {
			t.Error("Standard-IA tier should require delete age checks")
		}
	})

	t.Run("Custom Constraints Override", func(t *testing.T) {
		constraints := TierConstraints{
			MinObjectSize:   256 * 1024,
			DeletionEmbargo: 60 * 24 * time.Hour,
		}
		validator := NewTierValidator(TierStandardIA, constraints, logger)

		if err := validator.ValidateDelete("test.txt", 45*24*time.Hour); err == nil {
			t.Error("Custom constraints should override tier defaults for deletion")
		}

		if err := validator.ValidateDelete("test.txt", 61*24*time.Hour); err != nil {
			t.Errorf("Deletion after the custom embargo should pass: %v", err)
		}
	})

	t.Run("Unknown Tier Falls Back To Standard", func(t *testing.T) {
		validator := NewTierValidator("BOGUS", TierConstraints{}, logger)

		if validator.Tier() != TierStandard {
			t.Errorf("Expected fallback to %s, got %s", TierStandard, validator.Tier())
		}
	})
}

func TestStorageClassConversion(t *testing.T) {
	if ConvertTierToStorageClass(TierStandard) != s3types.StorageClassStandard {
		t.Error("Standard tier should convert to STANDARD storage class")
	}

	if ConvertTierToStorageClass(TierStandardIA) != s3types.StorageClassStandardIa {
		t.Error("Standard-IA tier should convert to STANDARD_IA storage class")
	}

	if ConvertTierToStorageClass("BOGUS") != s3types.StorageClassStandard {
		t.Error("Unknown tier should convert to STANDARD storage class")
	}

	if ConvertTierToCargoShipStorageClass(TierStandard) != awsconfig.StorageClassStandard {
		t.Error("Standard tier should convert to CargoShip STANDARD storage class")
	}

	if ConvertTierToCargoShipStorageClass(TierGlacierIR) != awsconfig.StorageClassGlacier {
		t.Error("Glacier IR should map to the transporter's Glacier class")
	}
}
