package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/schoolx/internal/app"
	"github.com/charlesng35/schoolx/internal/models"
)

// CheckStatus captures the outcome of an audit check.
type CheckStatus string

const (
	StatusPass CheckStatus = "pass"
	StatusWarn CheckStatus = "warn"
	StatusFail CheckStatus = "fail"
)

const maxAccessTokenTTL = 24 * time.Hour

// Check contains the result of a single audit verification.
type Check struct {
	ID          string      `json:"id"`
	Status      CheckStatus `json:"status"`
	Message     string      `json:"message"`
	Remediation string      `json:"remediation,omitempty"`
}

// Result aggregates all checks with a per-status count.
type Result struct {
	CheckedAt time.Time      `json:"checked_at"`
	Checks    []Check        `json:"checks"`
	Summary   map[string]int `json:"summary"`
}

// Findings returns the checks that did not pass.
func (r Result) Findings() []Check {
	var out []Check
	for _, check := range r.Checks {
		if check.Status != StatusPass {
			out = append(out, check)
		}
	}
	return out
}

// AuditService inspects the server configuration and directory for risky settings.
type AuditService struct {
	db  *gorm.DB
	cfg *app.Config
	now func() time.Time
}

// NewAuditService constructs the audit. Missing inputs degrade the affected checks to warnings.
func NewAuditService(db *gorm.DB, cfg *app.Config) *AuditService {
	return &AuditService{db: db, cfg: cfg, now: time.Now}
}

// WithClock overrides the clock used in results.
func (s *AuditService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Run executes every check.
func (s *AuditService) Run(ctx context.Context) Result {
	if ctx == nil {
		ctx = context.Background()
	}

	checks := []Check{
		s.checkSuperAdmin(ctx),
		s.checkJWTSecret(),
		s.checkTokenTTL(),
		s.checkSMTPTransport(),
		s.checkAllowedOrigins(),
	}

	summary := map[string]int{
		string(StatusPass): 0,
		string(StatusWarn): 0,
		string(StatusFail): 0,
	}
	for _, check := range checks {
		summary[string(check.Status)]++
	}

	return Result{
		CheckedAt: s.now().UTC(),
		Checks:    checks,
		Summary:   summary,
	}
}

func (s *AuditService) checkSuperAdmin(ctx context.Context) Check {
	const id = "super_admin_present"
	if s.db == nil {
		return Check{ID: id, Status: StatusWarn, Message: "Database unavailable; unable to confirm a super admin profile."}
	}

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.UserProfile{}).
		Where("role = ? AND is_active = ?", models.RoleSuperAdmin, true).
		Count(&count).Error; err != nil {
		return Check{ID: id, Status: StatusWarn, Message: fmt.Sprintf("Could not count super admins: %v", err)}
	}
	if count == 0 {
		return Check{
			ID:          id,
			Status:      StatusFail,
			Message:     "No active super admin profile.",
			Remediation: "Register a super_admin profile so school administrators can be provisioned.",
		}
	}
	return Check{ID: id, Status: StatusPass, Message: fmt.Sprintf("%d active super admin profile(s).", count)}
}

func (s *AuditService) checkJWTSecret() Check {
	const id = "jwt_secret_strength"
	if s.cfg == nil {
		return Check{ID: id, Status: StatusWarn, Message: "Configuration not loaded."}
	}

	length := len(strings.TrimSpace(s.cfg.Auth.JWT.Secret))
	switch {
	case length == 0:
		return Check{
			ID:          id,
			Status:      StatusFail,
			Message:     "Missing JWT verification secret.",
			Remediation: "Set SCHOOLX_AUTH_JWT_SECRET to the identity provider's signing secret.",
		}
	case length < 32:
		return Check{
			ID:          id,
			Status:      StatusFail,
			Message:     fmt.Sprintf("JWT secret is too short (%d bytes).", length),
			Remediation: "Use a randomly generated secret of at least 32 bytes.",
		}
	default:
		return Check{ID: id, Status: StatusPass, Message: fmt.Sprintf("JWT secret length is %d bytes.", length)}
	}
}

func (s *AuditService) checkTokenTTL() Check {
	const id = "access_token_ttl"
	if s.cfg == nil {
		return Check{ID: id, Status: StatusWarn, Message: "Configuration not loaded."}
	}

	ttl := s.cfg.Auth.JWT.TTL
	if ttl > maxAccessTokenTTL {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Access token TTL (%s) exceeds %s.", ttl, maxAccessTokenTTL),
			Remediation: "Shorten access tokens; realtime connections re-authenticate on reconnect.",
		}
	}
	return Check{ID: id, Status: StatusPass, Message: fmt.Sprintf("Access token TTL is %s.", ttl)}
}

func (s *AuditService) checkSMTPTransport() Check {
	const id = "smtp_transport"
	if s.cfg == nil {
		return Check{ID: id, Status: StatusWarn, Message: "Configuration not loaded."}
	}

	smtp := s.cfg.Email.SMTP
	if !smtp.Enabled {
		return Check{ID: id, Status: StatusPass, Message: "Email delivery disabled."}
	}
	if smtp.Username != "" && !smtp.UseTLS {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     "SMTP credentials are sent without TLS.",
			Remediation: "Enable email.smtp.use_tls.",
		}
	}
	return Check{ID: id, Status: StatusPass, Message: "SMTP transport configured."}
}

func (s *AuditService) checkAllowedOrigins() Check {
	const id = "allowed_origins"
	if s.cfg == nil {
		return Check{ID: id, Status: StatusWarn, Message: "Configuration not loaded."}
	}

	for _, origin := range s.cfg.Server.AllowedOrigins {
		if strings.TrimSpace(origin) == "*" {
			return Check{
				ID:          id,
				Status:      StatusWarn,
				Message:     "Any origin may call the API and open realtime connections.",
				Remediation: "List the school web origins in server.allowed_origins.",
			}
		}
	}
	return Check{ID: id, Status: StatusPass, Message: fmt.Sprintf("%d allowed origin(s).", len(s.cfg.Server.AllowedOrigins))}
}
