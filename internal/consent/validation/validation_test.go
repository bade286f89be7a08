package validation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"consentd/internal/consent/models"
)

type ValidationSuite struct {
	suite.Suite
	now time.Time
}

func (s *ValidationSuite) SetupTest() {
	s.now = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
}

func TestValidationSuite(t *testing.T) {
	suite.Run(t, new(ValidationSuite))
}

// validRecord builds a record that passes strict validation. Tests mutate
// copies of it to probe individual rules.
func (s *ValidationSuite) validRecord() map[string]any {
	raw := `{
		"preferences": {
			"essential": {"granted": true, "updatedAt": "2026-03-01T10:00:00Z"},
			"analytics": {"granted": true, "updatedAt": "2026-03-01T10:00:00Z"},
			"marketing": {"granted": false, "updatedAt": "2026-03-01T10:00:00Z"},
			"personalization": {"granted": false, "updatedAt": "2026-03-01T10:00:00Z"}
		},
		"hasConsented": true,
		"consentDate": "2026-03-01T10:00:00Z",
		"version": "1.0.0",
		"showBanner": false,
		"expiresAt": "2027-03-01T10:00:00Z"
	}`
	var record map[string]any
	s.Require().NoError(json.Unmarshal([]byte(raw), &record))
	return record
}

func (s *ValidationSuite) TestValidate_AcceptsWellFormedRecord() {
	res := Validate(s.validRecord())
	assert.True(s.T(), res.Valid, "errors: %v", res.Errors)
	assert.Empty(s.T(), res.Errors)
	assert.Empty(s.T(), res.Warnings)
}

func (s *ValidationSuite) TestValidate_NonObjectInputs() {
	for _, input := range []any{nil, "a string", 42.0, true, []any{"x"}} {
		res := Validate(input)
		require.False(s.T(), res.Valid, "input %v must be invalid", input)
		assert.Contains(s.T(), res.Errors, "record is not an object")
	}
}

func (s *ValidationSuite) TestValidate_RequiredFields() {
	for _, field := range []string{"preferences", "hasConsented", "version", "showBanner"} {
		s.T().Run("missing "+field, func(t *testing.T) {
			record := s.validRecord()
			delete(record, field)
			res := Validate(record)
			assert.False(t, res.Valid)
			assert.Contains(t, res.Errors, "missing required field: "+field)
		})
	}
}

func (s *ValidationSuite) TestValidate_TypeErrors() {
	s.T().Run("hasConsented not boolean", func(t *testing.T) {
		record := s.validRecord()
		record["hasConsented"] = "yes"
		res := Validate(record)
		assert.False(t, res.Valid)
		assert.Contains(t, res.Errors, "hasConsented is not a boolean")
	})

	s.T().Run("preferences not object", func(t *testing.T) {
		record := s.validRecord()
		record["preferences"] = []any{"essential"}
		res := Validate(record)
		assert.False(t, res.Valid)
		assert.Contains(t, res.Errors, "preferences is not an object")
	})

	s.T().Run("granted not boolean", func(t *testing.T) {
		record := s.validRecord()
		prefs := record["preferences"].(map[string]any)
		prefs["analytics"] = map[string]any{"granted": "true"}
		res := Validate(record)
		assert.False(t, res.Valid)
		assert.Contains(t, res.Errors, "preference analytics: granted is not a boolean")
	})

	s.T().Run("unparseable expiresAt", func(t *testing.T) {
		record := s.validRecord()
		record["expiresAt"] = "not-a-date"
		res := Validate(record)
		assert.False(t, res.Valid)
		assert.Contains(t, res.Errors, "expiresAt is not a valid date")
	})
}

func (s *ValidationSuite) TestValidate_ExpiryFieldRequirement() {
	s.T().Run("expiresAt alone is enough", func(t *testing.T) {
		record := s.validRecord()
		delete(record, "consentDate")
		record["hasConsented"] = false
		res := Validate(record)
		assert.True(t, res.Valid, "errors: %v", res.Errors)
	})

	s.T().Run("consentDate alone is enough", func(t *testing.T) {
		record := s.validRecord()
		delete(record, "expiresAt")
		res := Validate(record)
		assert.True(t, res.Valid, "errors: %v", res.Errors)
	})

	s.T().Run("neither date present is fatal", func(t *testing.T) {
		record := s.validRecord()
		delete(record, "expiresAt")
		delete(record, "consentDate")
		res := Validate(record)
		assert.False(t, res.Valid)
		assert.Contains(t, res.Errors, "missing required field: expiresAt")
	})
}

// Unknown categories and logical contradictions degrade to warnings: the
// record is still loaded, but the inconsistency is reported.
func (s *ValidationSuite) TestValidate_Warnings() {
	s.T().Run("unknown category", func(t *testing.T) {
		record := s.validRecord()
		prefs := record["preferences"].(map[string]any)
		prefs["advertising"] = map[string]any{"granted": true}
		res := Validate(record)
		assert.True(t, res.Valid)
		assert.Contains(t, res.Warnings, "unknown consent category: advertising")
	})

	s.T().Run("essential not granted", func(t *testing.T) {
		record := s.validRecord()
		prefs := record["preferences"].(map[string]any)
		prefs["essential"] = map[string]any{"granted": false}
		res := Validate(record)
		assert.True(t, res.Valid)
		assert.Contains(t, res.Warnings, "essential category is marked as not granted")
	})

	s.T().Run("hasConsented without consentDate", func(t *testing.T) {
		record := s.validRecord()
		record["consentDate"] = nil
		res := Validate(record)
		assert.True(t, res.Valid)
		assert.Contains(t, res.Warnings, "hasConsented is true but consentDate is not set")
	})

	s.T().Run("consentDate without hasConsented", func(t *testing.T) {
		record := s.validRecord()
		record["hasConsented"] = false
		res := Validate(record)
		assert.True(t, res.Valid)
		assert.Contains(t, res.Warnings, "consentDate is set but hasConsented is false")
	})
}

func (s *ValidationSuite) TestSanitize_NeverFails() {
	for _, input := range []any{nil, "garbage", 3.14, []any{1, 2}, map[string]any{}} {
		state := Sanitize(input, s.now)
		require.Len(s.T(), state.Preferences, len(models.AllCategories))
		assert.True(s.T(), state.Granted(models.CategoryEssential))
		assert.False(s.T(), state.HasConsented)
		assert.True(s.T(), state.ShowBanner)
		assert.Equal(s.T(), models.SchemaVersion, state.Version)
	}
}

func (s *ValidationSuite) TestSanitize_SalvagesTypedFields() {
	record := map[string]any{
		"hasConsented": true,
		"showBanner":   false,
		"consentDate":  "2026-01-05T08:00:00Z",
		"version":      "0.9.0",
		"preferences": map[string]any{
			"analytics": map[string]any{"granted": true, "updatedAt": "2026-01-05T08:00:00Z"},
			"marketing": map[string]any{"granted": "broken"},
			"bogus":     map[string]any{"granted": true},
		},
	}

	state := Sanitize(record, s.now)

	assert.True(s.T(), state.HasConsented)
	assert.False(s.T(), state.ShowBanner)
	assert.Equal(s.T(), "0.9.0", state.Version)
	require.NotNil(s.T(), state.ConsentDate)
	assert.Equal(s.T(), 2026, state.ConsentDate.Year())

	assert.True(s.T(), state.Granted(models.CategoryAnalytics))
	// marketing had a broken grant: keeps its default.
	assert.False(s.T(), state.Granted(models.CategoryMarketing))
	// unknown categories never come through.
	assert.Len(s.T(), state.Preferences, len(models.AllCategories))
}

// Essential comes back granted no matter how hostile the input.
func (s *ValidationSuite) TestSanitize_ForcesEssential() {
	record := map[string]any{
		"preferences": map[string]any{
			"essential": map[string]any{"granted": false, "updatedAt": "2026-01-05T08:00:00Z"},
		},
	}
	state := Sanitize(record, s.now)
	assert.True(s.T(), state.Granted(models.CategoryEssential))
}
