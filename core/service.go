package core

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/sirupsen/logrus"

	"github.com/PaulFidika/spinauth/autherr"
	jwtkit "github.com/PaulFidika/spinauth/jwt"
	"github.com/PaulFidika/spinauth/metrics"
)

// SuccessMessage is returned in the body of every successful authentication.
const SuccessMessage = "User authenticated successfully"

// OutcomeOK labels successful attempts in logs, metrics and audit events.
const OutcomeOK = "ok"

// KeyResolver returns the signing keys of a provider environment.
type KeyResolver interface {
	Resolve(ctx context.Context, environmentID string) (jwk.Set, error)
}

// Request carries what the gate needs from an incoming HTTP request.
type Request struct {
	Authorization string
	Body          []byte
	ClientIP      string
	UserAgent     string
	RequestID     string
}

// Outcome is the result of a successful authentication.
type Outcome struct {
	Message string          `json:"message"`
	User    json.RawMessage `json:"user"`
	Claims  map[string]any  `json:"claims"`
}

// Service authenticates bearer tokens against the configured environment.
type Service struct {
	cfg      AcceptConfig
	keys     KeyResolver
	verifier *jwtkit.Verifier
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
	audit    AuthEventLogger
	now      func() time.Time
}

type Option func(*Service)

func WithLogger(l logrus.FieldLogger) Option { return func(s *Service) { s.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithAuditLogger reports every attempt to l.
func WithAuditLogger(l AuthEventLogger) Option { return func(s *Service) { s.audit = l } }

// WithClock overrides time.Now for token time checks and event timestamps.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService builds the orchestrator. keys is usually a *jwks.Resolver.
func NewService(cfg AcceptConfig, keys KeyResolver, opts ...Option) *Service {
	if cfg.Skew == 0 {
		cfg.Skew = DefaultSkew
	}
	s := &Service{
		cfg:  cfg,
		keys: keys,
		log:  logrus.StandardLogger(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.verifier = jwtkit.NewVerifier(jwtkit.WithLeeway(cfg.Skew), jwtkit.WithTimeFunc(s.now))
	return s
}

// EnvironmentID returns the configured provider environment.
func (s *Service) EnvironmentID() string { return s.cfg.EnvironmentID }

// attempt accumulates what is known about a request as it moves through the
// pipeline, for logging and audit.
type attempt struct {
	req      Request
	segments int
	kid      string
	fp       string
	subject  string
}

// Authenticate runs the full gate: header extraction, structure check, key
// resolution, signature verification and body decoding. Errors are
// *autherr.Error values.
func (s *Service) Authenticate(ctx context.Context, req Request) (*Outcome, error) {
	start := time.Now()
	a := &attempt{req: req}
	out, err := s.authenticate(ctx, a)
	s.record(ctx, a, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) authenticate(ctx context.Context, a *attempt) (*Outcome, error) {
	token, err := jwtkit.ExtractBearer(a.req.Authorization)
	if err != nil {
		return nil, err
	}
	claims, err := s.verify(ctx, token, a)
	if err != nil {
		return nil, err
	}
	user, err := decodeUser(a.req.Body)
	if err != nil {
		return nil, err
	}
	return &Outcome{Message: SuccessMessage, User: user, Claims: claims}, nil
}

// VerifyToken checks a bare token (no "Bearer " prefix) and returns its claims.
// Unlike Authenticate it does not log, count or audit the attempt.
func (s *Service) VerifyToken(ctx context.Context, token string) (map[string]any, error) {
	return s.verify(ctx, token, &attempt{})
}

func (s *Service) verify(ctx context.Context, token string, a *attempt) (map[string]any, error) {
	a.fp = jwtkit.Fingerprint(token)
	a.segments = jwtkit.SegmentCount(token)
	hdr, err := jwtkit.ParseUnverifiedHeader(token)
	if err != nil {
		return nil, err
	}
	a.kid = hdr.Kid

	if s.cfg.EnvironmentID == "" {
		return nil, autherr.New(autherr.ServerMisconfigured, "")
	}
	keys, err := s.keys.Resolve(ctx, s.cfg.EnvironmentID)
	if err != nil {
		if autherr.KindOf(err) == autherr.KindUnknown {
			err = autherr.Wrap(autherr.UpstreamUnavailable, "", err)
		}
		return nil, err
	}
	claims, err := s.verifier.Verify(token, keys)
	if err != nil {
		return nil, err
	}
	a.subject, _ = claims["sub"].(string)
	return claims, nil
}

// decodeUser returns the request body's "user" field verbatim, or {} when the
// body or the field is absent.
func decodeUser(body []byte) (json.RawMessage, error) {
	empty := json.RawMessage(`{}`)
	if len(bytes.TrimSpace(body)) == 0 {
		return empty, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		if err == nil {
			err = errBodyNotObject
		}
		return nil, autherr.Wrap(autherr.InvalidRequestBody, "", err)
	}
	user, ok := fields["user"]
	if !ok || len(user) == 0 {
		return empty, nil
	}
	return user, nil
}

type bodyError string

func (e bodyError) Error() string { return string(e) }

const errBodyNotObject = bodyError("request body is not a JSON object")

func (s *Service) record(ctx context.Context, a *attempt, err error, d time.Duration) {
	outcome := OutcomeOK
	detail := ""
	if err != nil {
		outcome = autherr.KindOf(err).String()
		detail = autherr.DetailOf(err)
	}
	s.metrics.ObserveAuth(outcome, d)

	log := s.log.WithFields(logrus.Fields{
		"request_id":        a.req.RequestID,
		"has_authorization": a.req.Authorization != "",
		"segments":          a.segments,
		"environment_id":    s.cfg.EnvironmentID,
		"kid":               a.kid,
		"token_fp":          a.fp,
		"outcome":           outcome,
		"duration_ms":       d.Milliseconds(),
	})
	switch kind := autherr.KindOf(err); {
	case err == nil:
		log.WithField("sub", a.subject).Info("auth: authenticated")
	case kind == autherr.ServerMisconfigured, kind == autherr.UpstreamUnavailable, kind == autherr.KindUnknown:
		log.WithError(err).Error("auth: rejected")
	default:
		log.WithError(err).Warn("auth: rejected")
	}

	if s.audit == nil {
		return
	}
	ev := AuthEvent{
		ID:               uuid.New(),
		OccurredAt:       s.now().UTC(),
		EnvironmentID:    s.cfg.EnvironmentID,
		Outcome:          outcome,
		Detail:           detail,
		Subject:          a.subject,
		KeyID:            a.kid,
		TokenFingerprint: a.fp,
		ClientIP:         a.req.ClientIP,
		UserAgent:        a.req.UserAgent,
		RequestID:        a.req.RequestID,
	}
	if aerr := s.audit.LogAuthAttempt(ctx, ev); aerr != nil {
		log.WithError(aerr).Warn("auth: audit log failed")
	}
}
