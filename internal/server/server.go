// Package server exposes the access plane's HTTP API.
package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"opensase/access-plane/internal/accessctx"
	"opensase/access-plane/internal/audit"
	"opensase/access-plane/internal/connector"
	"opensase/access-plane/internal/device"
	"opensase/access-plane/internal/mfa"
	policyengine "opensase/access-plane/internal/policy/engine"
	"opensase/access-plane/internal/processor"
	"opensase/access-plane/internal/resource"
	"opensase/access-plane/internal/security"
	"opensase/access-plane/internal/session"
	"opensase/access-plane/internal/stepup"
)

// Deps holds the components the HTTP handlers operate on.
type Deps struct {
	Processor  *processor.Processor
	Contexts   *accessctx.Evaluator
	Sessions   *session.Manager
	StepUps    *stepup.Manager
	MFA        *mfa.Engine
	Devices    *device.Registry
	Resources  *resource.Registry
	Connectors *connector.Manager
	Policies   *policyengine.Engine
	// Credentials stores the re-auth passwords that back password step-up challenges.
	Credentials *security.CredentialStore
	Emitter     audit.Emitter
}

// Server is the HTTP API server.
type Server struct {
	deps Deps
}

// New returns a Server over the given components.
func New(deps Deps) *Server {
	return &Server{deps: deps}
}

// Router builds the API route table.
func Router(deps Deps) http.Handler {
	s := New(deps)
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "OK")
	}).Methods("GET")

	r.HandleFunc("/v1/access", s.handleAccess).Methods("POST")
	r.HandleFunc("/v1/sessions/{id}/end", s.handleEndSession).Methods("POST")
	r.HandleFunc("/v1/sessions/{id}/stepup", s.handleCreateStepUp).Methods("POST")
	r.HandleFunc("/v1/stepup/{id}/verify", s.handleVerifyStepUp).Methods("POST")
	r.HandleFunc("/v1/mfa/challenges", s.handleCreateMfaChallenge).Methods("POST")
	r.HandleFunc("/v1/mfa/challenges/{id}/verify", s.handleVerifyMfaChallenge).Methods("POST")
	r.HandleFunc("/v1/devices/{id}", s.handleUpsertDevice).Methods("PUT")
	r.HandleFunc("/v1/users/{id}/devices", s.handleUserDevices).Methods("GET")
	r.HandleFunc("/v1/users/{id}/credentials", s.handleSetCredentials).Methods("PUT")
	r.HandleFunc("/v1/connectors/{id}", s.handleUpsertConnector).Methods("PUT")
	r.HandleFunc("/v1/resources/{id}", s.handleUpsertResource).Methods("PUT")
	r.HandleFunc("/v1/policies/{id}", s.handleUpsertPolicy).Methods("PUT")
	r.HandleFunc("/v1/policies", s.handleListPolicies).Methods("GET")
	r.HandleFunc("/v1/stats", s.handleStats).Methods("GET")

	return logRequests(r)
}
