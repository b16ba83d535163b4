package orchestrator

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/felipepmaragno/tourai/internal/domain"
	"github.com/felipepmaragno/tourai/internal/provider"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

func (o *Orchestrator) validateInput(messages []domain.Message, opts domain.CallOptions) error {
	if len(messages) == 0 {
		return domain.InvalidInput("messages must not be empty")
	}

	systems, dialogue := 0, 0
	for i, m := range messages {
		if !m.Role.IsValid() {
			return domain.InvalidInput("message %d: unknown role %q", i, m.Role)
		}
		if strings.TrimSpace(m.Content) == "" {
			return domain.InvalidInput("message %d: content must not be empty", i)
		}
		if m.Role == domain.RoleSystem {
			systems++
		} else {
			dialogue++
		}
	}
	if systems > 1 {
		return domain.InvalidInput("at most one system message is allowed")
	}
	if dialogue == 0 {
		return domain.InvalidInput("at least one user or assistant message is required")
	}

	if err := o.validate.Struct(opts); err != nil {
		return optionsError(err)
	}
	// Model names are provider specific, so a model pins its provider.
	if opts.Model != "" && opts.Provider == "" {
		return domain.InvalidInput("model requires provider")
	}

	if o.screen != nil {
		if err := o.screen.Check(messages); err != nil {
			return err
		}
	}
	return nil
}

func optionsError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.InvalidInput("options: %v", err)
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "oneof":
		return domain.InvalidInput("%s must be one of: %s", field, fe.Param())
	case "gte", "gt":
		return domain.InvalidInput("%s must be greater than %s%s", field, orEqual(fe.Tag()), fe.Param())
	case "lte", "lt":
		return domain.InvalidInput("%s must be less than %s%s", field, orEqual(fe.Tag()), fe.Param())
	case "max":
		return domain.InvalidInput("%s must be at most %s characters", field, fe.Param())
	default:
		return domain.InvalidInput("%s failed %s validation", field, fe.Tag())
	}
}

func orEqual(tag string) string {
	if strings.HasSuffix(tag, "e") {
		return "or equal to "
	}
	return ""
}

// candidates resolves the ordered, de-duplicated provider list for a call.
func (o *Orchestrator) candidates(opts domain.CallOptions) ([]provider.Name, error) {
	if opts.Provider != "" {
		name, err := provider.ParseName(opts.Provider)
		if err != nil {
			return nil, err
		}
		return []provider.Name{name}, nil
	}
	if len(opts.FallbackOrder) > 0 {
		return provider.ParseNames(opts.FallbackOrder)
	}
	if len(o.cfg.DefaultOrder) == 0 {
		return nil, domain.InvalidInput("no providers in fallback order")
	}
	out := make([]provider.Name, 0, len(o.cfg.DefaultOrder))
	seen := make(map[provider.Name]bool, len(o.cfg.DefaultOrder))
	for _, n := range o.cfg.DefaultOrder {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out, nil
}

func (o *Orchestrator) buildRequest(messages []domain.Message, opts domain.CallOptions) provider.Request {
	req := provider.Request{
		Model:       opts.Model,
		Messages:    messages,
		Temperature: o.cfg.DefaultTemperature,
		MaxTokens:   o.cfg.DefaultMaxTokens,
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.MaxTokens != nil {
		req.MaxTokens = *opts.MaxTokens
	}
	return req
}
