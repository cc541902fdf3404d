package policy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/rego"

	"github.com/openfroyo/resgen/pkg/engine"
	"github.com/openfroyo/resgen/pkg/telemetry"
)

// AdmissionQuery is the Rego document evaluated for every provider run.
const AdmissionQuery = "data.resgen.admission"

// ErrNotAllowed is returned when the policy does not allow a run and gives
// no reason.
var ErrNotAllowed = errors.New("not allowed by admission policy")

// Input is the document a policy sees as input.
type Input struct {
	Identity string `json:"identity"`
	Source   string `json:"source"`
	Name     string `json:"name"`
}

// Admission evaluates a compiled admission policy. It implements
// engine.Admitter.
type Admission struct {
	name   string
	query  rego.PreparedEvalQuery
	logger *telemetry.Logger
}

// NewAdmission compiles the Rego module src. name is used in error locations.
func NewAdmission(ctx context.Context, name, src string, logger *telemetry.Logger) (*Admission, error) {
	if logger == nil {
		logger = telemetry.Nop()
	}

	query, err := rego.New(
		rego.Module(name, src),
		rego.Query(AdmissionQuery),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile admission policy %s: %w", name, err)
	}

	return &Admission{
		name:   name,
		query:  query,
		logger: logger.NewComponentLogger("policy"),
	}, nil
}

// LoadAdmission compiles the policy file at path.
func LoadAdmission(ctx context.Context, path string, logger *telemetry.Logger) (*Admission, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewAdmission(ctx, path, string(src), logger)
}

// Admit implements engine.Admitter. An undefined policy document denies.
func (a *Admission) Admit(ctx context.Context, id engine.Identity) error {
	input := Input{
		Identity: string(id),
		Source:   id.Source(),
		Name:     id.Name(),
	}

	results, err := a.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return fmt.Errorf("admission policy evaluation error: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		a.logger.WithIdentity(string(id)).Debug("admission policy undefined")
		return ErrNotAllowed
	}

	doc, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return fmt.Errorf("admission policy %s: unexpected result type %T", a.name, results[0].Expressions[0].Value)
	}

	if reasons := denyReasons(doc["deny"]); len(reasons) > 0 {
		return errors.New(strings.Join(reasons, "; "))
	}
	if allow, _ := doc["allow"].(bool); !allow {
		return ErrNotAllowed
	}
	return nil
}

// denyReasons returns the string members of a deny set, sorted.
func denyReasons(v interface{}) []string {
	set, ok := v.([]interface{})
	if !ok {
		return nil
	}

	reasons := make([]string, 0, len(set))
	for _, item := range set {
		if s, ok := item.(string); ok {
			reasons = append(reasons, s)
		}
	}
	sort.Strings(reasons)
	return reasons
}
