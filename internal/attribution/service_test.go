package attribution

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	dErrors "consentd/pkg/domain-errors"
)

// stubGate is a ConsentGate with a fixed answer per visitor.
type stubGate struct {
	allowed map[string]bool
}

func (g *stubGate) CanTrackAnalytics(_ context.Context, visitorID string) bool {
	return g.allowed[visitorID]
}

type ServiceSuite struct {
	suite.Suite
	store   *MemorySessionStore
	gate    *stubGate
	service *Service
	now     time.Time
}

func (s *ServiceSuite) SetupTest() {
	s.now = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	s.store = NewMemorySessionStore()
	s.gate = &stubGate{allowed: map[string]bool{"consented": true}}
	s.service = NewService(s.store, s.gate,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return s.now }),
	)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

const landingURL = "https://example.com/pricing?utm_source=google&utm_medium=cpc&utm_campaign=spring&irrelevant=1"

func (s *ServiceSuite) TestCapture_StoresKnownKeysOnly() {
	ctx := context.Background()
	params, err := s.service.Capture(ctx, "consented", "sess-1", landingURL)
	require.NoError(s.T(), err)

	assert.Equal(s.T(), Params{
		"utm_source":   "google",
		"utm_medium":   "cpc",
		"utm_campaign": "spring",
	}, params)

	got := s.service.Retrieve(ctx, "consented", "sess-1")
	assert.Equal(s.T(), params, got)
	assert.NotContains(s.T(), got, "irrelevant")
}

// The consent gate is hard: a denied capture performs no session write at
// all, not even an empty placeholder.
func (s *ServiceSuite) TestCapture_DeniedWritesNothing() {
	ctx := context.Background()
	params, err := s.service.Capture(ctx, "anonymous", "sess-1", landingURL)
	require.NoError(s.T(), err)
	assert.Nil(s.T(), params)

	_, err = s.store.Get(ctx, "sess-1")
	assert.Error(s.T(), err, "slot must stay empty")
}

func (s *ServiceSuite) TestCapture_NoUTMLeavesSlotUntouched() {
	ctx := context.Background()
	_, err := s.service.Capture(ctx, "consented", "sess-1", landingURL)
	require.NoError(s.T(), err)

	// A later internal navigation without UTM keys must not wipe the
	// original campaign.
	params, err := s.service.Capture(ctx, "consented", "sess-1", "https://example.com/about")
	require.NoError(s.T(), err)
	assert.Nil(s.T(), params)

	got := s.service.Retrieve(ctx, "consented", "sess-1")
	assert.Equal(s.T(), "google", got["utm_source"])
}

// Last campaign wins: a new landing with any UTM key replaces the whole
// slot, including keys the new landing does not carry.
func (s *ServiceSuite) TestCapture_LastCampaignWins() {
	ctx := context.Background()
	_, err := s.service.Capture(ctx, "consented", "sess-1", landingURL)
	require.NoError(s.T(), err)

	_, err = s.service.Capture(ctx, "consented", "sess-1", "https://example.com/?utm_source=newsletter")
	require.NoError(s.T(), err)

	got := s.service.Retrieve(ctx, "consented", "sess-1")
	assert.Equal(s.T(), Params{"utm_source": "newsletter"}, got)
	assert.NotContains(s.T(), got, "utm_medium", "old campaign keys must not leak through")
}

func (s *ServiceSuite) TestCapture_InvalidURL() {
	_, err := s.service.Capture(context.Background(), "consented", "sess-1", "://bad")
	require.Error(s.T(), err)
	assert.True(s.T(), dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

// Retrieval is gated too: data physically present stays invisible after
// consent is withdrawn.
func (s *ServiceSuite) TestRetrieve_DeniedHidesStoredData() {
	ctx := context.Background()
	_, err := s.service.Capture(ctx, "consented", "sess-1", landingURL)
	require.NoError(s.T(), err)

	s.gate.allowed["consented"] = false
	assert.Nil(s.T(), s.service.Retrieve(ctx, "consented", "sess-1"))
	assert.False(s.T(), s.service.HasParameters(ctx, "consented", "sess-1"))

	// Withdrawal does not delete: re-granting makes the capture visible
	// again for the rest of the session.
	s.gate.allowed["consented"] = true
	assert.NotNil(s.T(), s.service.Retrieve(ctx, "consented", "sess-1"))
}

func (s *ServiceSuite) TestRetrieve_EmptySlot() {
	assert.Nil(s.T(), s.service.Retrieve(context.Background(), "consented", "sess-none"))
}

func (s *ServiceSuite) TestRetrieve_CorruptSlotDeleted() {
	ctx := context.Background()
	require.NoError(s.T(), s.store.Set(ctx, "sess-1", []byte("{broken")))

	assert.Nil(s.T(), s.service.Retrieve(ctx, "consented", "sess-1"))
	_, err := s.store.Get(ctx, "sess-1")
	assert.Error(s.T(), err, "corrupt slot must be deleted")
}

func (s *ServiceSuite) TestClear() {
	ctx := context.Background()
	_, err := s.service.Capture(ctx, "consented", "sess-1", landingURL)
	require.NoError(s.T(), err)

	s.service.Clear(ctx, "sess-1")
	assert.Nil(s.T(), s.service.Retrieve(ctx, "consented", "sess-1"))
}

// CapturedAt reads the raw timestamp without consulting the gate, so
// elapsed-time diagnostics work even for denied flows.
func (s *ServiceSuite) TestCapturedAt_BypassesGate() {
	ctx := context.Background()
	_, err := s.service.Capture(ctx, "consented", "sess-1", landingURL)
	require.NoError(s.T(), err)

	s.gate.allowed["consented"] = false
	capturedAt, ok := s.service.CapturedAt(ctx, "sess-1")
	require.True(s.T(), ok)
	assert.True(s.T(), capturedAt.Equal(s.now))

	_, ok = s.service.CapturedAt(ctx, "sess-none")
	assert.False(s.T(), ok)
}
