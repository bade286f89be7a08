package tracking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"consentd/internal/attribution"
)

type stubGate struct {
	allowed map[string]bool
}

func (g *stubGate) CanTrackAnalytics(_ context.Context, visitorID string) bool {
	return g.allowed[visitorID]
}

type ServiceSuite struct {
	suite.Suite
	sessions *attribution.MemorySessionStore
	gate     *stubGate
	attr     *attribution.Service
	sink     *MemorySink
	service  *Service
	now      time.Time
}

func (s *ServiceSuite) SetupTest() {
	s.now = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return s.now }
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))

	s.sessions = attribution.NewMemorySessionStore()
	s.gate = &stubGate{allowed: map[string]bool{"consented": true}}
	s.attr = attribution.NewService(s.sessions, s.gate,
		attribution.WithLogger(discard),
		attribution.WithClock(clock),
	)
	s.sink = NewMemorySink()
	s.service = NewService(s.attr, s.sink, "ads.example.net",
		WithLogger(discard),
		WithClock(clock),
	)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) capture(visitorID, sessionID string) {
	_, err := s.attr.Capture(context.Background(), visitorID, sessionID,
		"https://example.com/?utm_source=google&utm_medium=cpc&utm_campaign=spring")
	s.Require().NoError(err)
}

func (s *ServiceSuite) lastConversion() RecordedEvent {
	events := s.sink.Events()
	s.Require().NotEmpty(events)
	return events[len(events)-1]
}

func (s *ServiceSuite) TestIsAdDestination() {
	assert.True(s.T(), s.service.IsAdDestination("https://ads.example.net/signup"))
	assert.False(s.T(), s.service.IsAdDestination("https://example.com/"))
	// Subdomains and lookalikes never match.
	assert.False(s.T(), s.service.IsAdDestination("https://sub.ads.example.net/"))
	assert.False(s.T(), s.service.IsAdDestination("https://ads.example.net.evil.com/"))
	assert.False(s.T(), s.service.IsAdDestination("://bad"))
}

func (s *ServiceSuite) TestTimeToConversion() {
	ctx := context.Background()

	s.T().Run("nil without capture", func(t *testing.T) {
		assert.Nil(t, s.service.TimeToConversion(ctx, "sess-none"))
	})

	s.T().Run("whole seconds since capture", func(t *testing.T) {
		s.capture("consented", "sess-1")
		s.now = s.now.Add(90*time.Second + 700*time.Millisecond)

		ttc := s.service.TimeToConversion(ctx, "sess-1")
		require.NotNil(t, ttc)
		assert.Equal(t, int64(90), *ttc)
	})

	s.T().Run("computed even when consent is denied", func(t *testing.T) {
		s.gate.allowed["consented"] = false
		ttc := s.service.TimeToConversion(ctx, "sess-1")
		require.NotNil(t, ttc)
		assert.Equal(t, int64(90), *ttc)
	})
}

func (s *ServiceSuite) TestTrackAdConversion_WithStoredAttribution() {
	ctx := context.Background()
	s.capture("consented", "sess-1")
	s.now = s.now.Add(45 * time.Second)

	s.service.TrackAdConversion(ctx, ConversionRequest{
		VisitorID:   "consented",
		SessionID:   "sess-1",
		CTA:         "hero-signup",
		Location:    "hero",
		PageVariant: "b",
		Destination: "https://ads.example.net/signup",
		Page:        PageContext{Path: "/pricing", Title: "Pricing", URL: "https://example.com/pricing"},
	})

	ev := s.lastConversion()
	assert.Equal(s.T(), "conversion", ev.Kind)
	assert.Equal(s.T(), ConversionType, ev.Name)
	assert.Equal(s.T(), "https://ads.example.net/signup", ev.Destination)

	assert.Equal(s.T(), "google", ev.Props["utm_source"])
	assert.Equal(s.T(), "cpc", ev.Props["utm_medium"])
	assert.Equal(s.T(), "spring", ev.Props["utm_campaign"])
	assert.Equal(s.T(), "hero-signup", ev.Props["cta"])
	assert.Equal(s.T(), "hero", ev.Props["cta_location"])
	assert.Equal(s.T(), "b", ev.Props["page_variant"])
	assert.Equal(s.T(), int64(45), ev.Props["time_to_conversion"])
	assert.Equal(s.T(), "/pricing", ev.Props["page_path"])
	assert.Equal(s.T(), true, ev.Props["is_direct_conversion"])
	assert.NotContains(s.T(), ev.Props, "label")
	assert.NotContains(s.T(), ev.Props, "referrer")
}

// Explicit UTM overrides win key-by-key over the stored session capture;
// empty override values are ignored.
func (s *ServiceSuite) TestTrackAdConversion_OverridesWin() {
	ctx := context.Background()
	s.capture("consented", "sess-1")

	s.service.TrackAdConversion(ctx, ConversionRequest{
		VisitorID: "consented",
		SessionID: "sess-1",
		CTA:       "cta",
		UTM: map[string]string{
			"utm_source": "retargeting",
			"utm_medium": "",
		},
	})

	ev := s.lastConversion()
	assert.Equal(s.T(), "retargeting", ev.Props["utm_source"])
	assert.Equal(s.T(), "cpc", ev.Props["utm_medium"], "empty override must not clobber stored value")
	assert.Equal(s.T(), "spring", ev.Props["utm_campaign"])
}

// Without consent the stored attribution stays invisible, but the event
// still fires with whatever the caller supplied explicitly.
func (s *ServiceSuite) TestTrackAdConversion_ConsentDenied() {
	ctx := context.Background()
	s.capture("consented", "sess-1")
	s.gate.allowed["consented"] = false
	s.now = s.now.Add(30 * time.Second)

	s.service.TrackAdConversion(ctx, ConversionRequest{
		VisitorID: "consented",
		SessionID: "sess-1",
		CTA:       "cta",
	})

	ev := s.lastConversion()
	assert.NotContains(s.T(), ev.Props, "utm_source")
	assert.Equal(s.T(), false, ev.Props["is_direct_conversion"])
	// Elapsed time still reported for denied flows.
	assert.Equal(s.T(), int64(30), ev.Props["time_to_conversion"])
}

func (s *ServiceSuite) TestTrackAdConversion_NoCapture() {
	s.service.TrackAdConversion(context.Background(), ConversionRequest{
		VisitorID: "consented",
		SessionID: "sess-none",
		CTA:       "cta",
		Label:     "footer",
		Page:      PageContext{Path: "/", Referrer: "https://google.com/"},
	})

	ev := s.lastConversion()
	assert.Nil(s.T(), ev.Props["time_to_conversion"])
	assert.Equal(s.T(), false, ev.Props["is_direct_conversion"])
	assert.Equal(s.T(), "footer", ev.Props["label"])
	assert.Equal(s.T(), "https://google.com/", ev.Props["referrer"])
}

func (s *ServiceSuite) TestTrackAdConversion_DeviceContext() {
	const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	s.service.TrackAdConversion(context.Background(), ConversionRequest{
		VisitorID: "consented",
		SessionID: "sess-1",
		CTA:       "cta",
		UserAgent: chromeUA,
	})

	ev := s.lastConversion()
	assert.Equal(s.T(), "Chrome", ev.Props["browser"])
	assert.Equal(s.T(), "desktop", ev.Props["platform"])
	assert.NotEmpty(s.T(), ev.Props["os"])
}

// Tracking must never propagate sink failures to the caller.
func (s *ServiceSuite) TestTrackAdConversion_SinkFailureSwallowed() {
	s.sink.Err = errors.New("broker down")

	assert.NotPanics(s.T(), func() {
		s.service.TrackAdConversion(context.Background(), ConversionRequest{
			VisitorID: "consented",
			SessionID: "sess-1",
			CTA:       "cta",
		})
	})
	assert.Empty(s.T(), s.sink.Events())
}

func (s *ServiceSuite) TestTrackConversion_RoutesByDestination() {
	ctx := context.Background()
	s.capture("consented", "sess-1")

	s.T().Run("conversion domain takes the ad path", func(t *testing.T) {
		s.service.TrackConversion(ctx, ConversionRequest{
			VisitorID:   "consented",
			SessionID:   "sess-1",
			CTA:         "hero",
			Destination: "https://ads.example.net/signup",
		})
		ev := s.lastConversion()
		assert.Equal(t, "conversion", ev.Kind)
		assert.Equal(t, ConversionType, ev.Name)
		assert.Equal(t, "google", ev.Props["utm_source"])
	})

	s.T().Run("other destinations take the simple path", func(t *testing.T) {
		s.service.TrackConversion(ctx, ConversionRequest{
			VisitorID:   "consented",
			SessionID:   "sess-1",
			CTA:         "docs",
			Destination: "https://example.com/docs",
		})
		events := s.sink.Events()
		require.NotEmpty(t, events)
		ev := events[len(events)-1]
		assert.Equal(t, "event", ev.Kind)
		assert.Equal(t, "docs", ev.Name)
		assert.Equal(t, "https://example.com/docs", ev.Props["destination"])
		assert.NotContains(t, ev.Props, "utm_source", "simple path must not attach session attribution")
	})
}

func (s *ServiceSuite) TestTrackCTAClick() {
	ctx := context.Background()

	s.T().Run("destination falls back to cta id", func(t *testing.T) {
		s.service.TrackCTAClick(ctx, CTARequest{CTA: "newsletter-signup"})

		events := s.sink.Events()
		require.NotEmpty(t, events)
		ev := events[len(events)-1]
		assert.Equal(t, "event", ev.Kind)
		assert.Equal(t, "newsletter-signup", ev.Name)
		assert.Equal(t, "newsletter-signup", ev.Props["destination"])
	})

	s.T().Run("explicit utm only, no session lookup", func(t *testing.T) {
		s.capture("consented", "sess-1")
		s.service.TrackCTAClick(ctx, CTARequest{
			CTA:         "docs-link",
			Destination: "https://docs.example.com/",
			UTM:         map[string]string{"utm_source": "banner", "utm_term": ""},
		})

		events := s.sink.Events()
		ev := events[len(events)-1]
		assert.Equal(t, "https://docs.example.com/", ev.Props["destination"])
		assert.Equal(t, "banner", ev.Props["utm_source"])
		assert.NotContains(t, ev.Props, "utm_term")
		assert.NotContains(t, ev.Props, "utm_campaign", "stored session attribution must not be attached")
	})
}

func (s *ServiceSuite) TestTrackPageView() {
	s.service.TrackPageView(context.Background(), "/pricing", "Pricing")

	events := s.sink.Events()
	require.Len(s.T(), events, 1)
	assert.Equal(s.T(), "pageview", events[0].Kind)
	assert.Equal(s.T(), "/pricing", events[0].Props["path"])
	assert.Equal(s.T(), "Pricing", events[0].Props["title"])
}
