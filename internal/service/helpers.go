package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"backoffice/internal/authz"
	"backoffice/internal/errs"
	"backoffice/internal/model"
	"backoffice/internal/observability"
	"backoffice/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Deps carries the ambient collaborators shared by every service
type Deps struct {
	Log      zerolog.Logger
	Metrics  *observability.Metrics
	Notifier Notifier
}

// Notifier receives domain events after their transaction commits
type Notifier interface {
	Publish(event string, payload any)
}

// Event names published to connected moderators
const (
	EventCommentSubmitted = "comment.submitted"
	EventAssetUploaded    = "asset.uploaded"
)

type nopNotifier struct{}

func (nopNotifier) Publish(string, any) {}

func notifierOrNop(n Notifier) Notifier {
	if n == nil {
		return nopNotifier{}
	}
	return n
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateInput runs the struct's validate tags and reports every failing field
func validateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errs.Validation("%s", err.Error())
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s must satisfy %s", fe.Field(), fe.Tag()))
	}
	return errs.Validation("%s", strings.Join(msgs, "; "))
}

// guard evaluates the authorization gate and counts denials
type guard struct {
	gate    *authz.Gate
	metrics *observability.Metrics
}

func (g guard) require(actor authz.Principal, c authz.Capability) error {
	d := g.gate.Check(actor, c)
	if d.Allowed {
		return nil
	}
	g.metrics.GateDenials.WithLabelValues(string(c), string(d.Reason)).Inc()
	return g.gate.Require(actor, c)
}

// requireOwner lets the owner through, or anyone holding manageAll
func (g guard) requireOwner(actor authz.Principal, owner *uuid.UUID, manageAll authz.Capability, what string) error {
	if owner != nil && *owner == actor.ID {
		return nil
	}
	if g.gate.Can(actor, manageAll) {
		return nil
	}
	g.metrics.GateDenials.WithLabelValues(string(manageAll), string(authz.ReasonInsufficientRole)).Inc()
	return errs.Permission("%s belongs to another author; %s is required", what, manageAll)
}

func parseID(raw, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, errs.Validation("invalid %s id %q", what, raw)
	}
	return id, nil
}

// parseIDSet parses and de-duplicates ids, keeping first-seen order
func parseIDSet(raw []string, what string) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]struct{}, len(raw))
	out := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := parseID(r, what)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// loadErr turns a repository miss into NotFound and wraps everything else
func loadErr(err error, what string, id uuid.UUID) error {
	if repository.IsNotFound(err) {
		return errs.NotFound("%s %s not found", what, id)
	}
	return fmt.Errorf("failed to load %s %s: %w", what, id, err)
}

func auditEntry(actor authz.Principal, action, entityID, entityName string, details map[string]any) *model.AuditLog {
	entry := &model.AuditLog{
		Action:     action,
		EntityID:   entityID,
		EntityName: entityName,
	}
	if actor.Authenticated() {
		id := actor.ID
		entry.UserID = &id
	}
	if details != nil {
		raw, _ := json.Marshal(details)
		entry.Details = string(raw)
	}
	return entry
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
