package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	accessdomain "opensase/access-plane/internal/access/domain"
)

// Rego conditions must live in this package and define a boolean `match` rule,
// e.g.
//
//	package access.policy
//	default match = false
//	match if { input.context.network == "corporate" }
const regoPackage = "access.policy"

const regoQuery = "data.access.policy.match"

// regoCondition holds a compiled per-policy Rego rule.
type regoCondition struct {
	compiler *ast.Compiler
}

func compileRegoCondition(policyID, rule string) (*regoCondition, error) {
	modules := map[string]string{fmt.Sprintf("policy_%s.rego", policyID): rule}
	compiler, err := ast.CompileModules(modules)
	if err != nil {
		return nil, fmt.Errorf("compile rego rule: %w", err)
	}
	return &regoCondition{compiler: compiler}, nil
}

// eval runs the compiled rule against the request. A query that produces no
// result or a non-boolean value is treated as an error so the caller can
// fail closed.
func (rc *regoCondition) eval(ctx context.Context, req *accessdomain.AccessRequest) (bool, error) {
	q := rego.New(
		rego.Query(regoQuery),
		rego.Compiler(rc.compiler),
		rego.Input(buildInput(req)),
	)
	rs, err := q.Eval(ctx)
	if err != nil {
		return false, fmt.Errorf("eval rego rule: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, fmt.Errorf("rego query %s returned no result", regoQuery)
	}
	matched, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("rego query %s returned non-boolean %T", regoQuery, rs[0].Expressions[0].Value)
	}
	return matched, nil
}

func buildInput(req *accessdomain.AccessRequest) map[string]interface{} {
	identity := map[string]interface{}{
		"user_id":      req.Identity.UserID,
		"email":        req.Identity.Email,
		"groups":       req.Identity.Groups,
		"roles":        req.Identity.Roles,
		"mfa_verified": req.Identity.MFAVerified,
		"provider":     string(req.Identity.Provider),
	}

	deviceMap := map[string]interface{}{
		"id":        "",
		"managed":   false,
		"compliant": false,
		"os":        "",
	}
	if req.Device != nil {
		deviceMap["id"] = req.Device.ID
		deviceMap["managed"] = req.Device.Managed
		deviceMap["compliant"] = req.Device.Compliant
		deviceMap["os"] = req.Device.OS
	}

	resourceMap := map[string]interface{}{
		"id":          req.Resource.ID,
		"name":        req.Resource.Name,
		"type":        string(req.Resource.Type),
		"sensitivity": req.Resource.Sensitivity.String(),
		"segment":     req.Resource.Segment,
		"tags":        req.Resource.Tags,
	}

	ctxMap := map[string]interface{}{
		"client_ip": "",
		"network":   "",
		"country":   "",
		"time":      req.Timestamp.UTC().Format(time.RFC3339),
		"hour":      req.Timestamp.UTC().Hour(),
	}
	if req.Context != nil {
		if req.Context.ClientIP != nil {
			ctxMap["client_ip"] = req.Context.ClientIP.String()
		}
		ctxMap["network"] = string(req.Context.NetworkType)
		if req.Context.GeoLocation != nil {
			ctxMap["country"] = req.Context.GeoLocation.Country
		}
		ctxMap["time"] = req.Context.TimeOfAccess.UTC().Format(time.RFC3339)
		ctxMap["hour"] = req.Context.TimeOfAccess.UTC().Hour()
	}

	return map[string]interface{}{
		"identity": identity,
		"device":   deviceMap,
		"resource": resourceMap,
		"context":  ctxMap,
		"action":   string(req.Action),
	}
}
