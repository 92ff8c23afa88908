package router

import (
	"net/http"

	"github.com/Stellar-cadet-s/kazi-trust/internal/auth"
	"github.com/Stellar-cadet-s/kazi-trust/internal/dashboard"
	"github.com/Stellar-cadet-s/kazi-trust/internal/jobs"
	"github.com/Stellar-cadet-s/kazi-trust/internal/middleware"
	"github.com/Stellar-cadet-s/kazi-trust/internal/models"
)

const base = "/api/v1"

// New returns an http.Handler that serves the API under /api/v1. Everything
// except register and login requires a bearer token.
func New(authHandler *auth.Handler, jobsHandler *jobs.Handler, dashHandler *dashboard.Handler, tokens middleware.TokenValidator) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(base+"/auth/register", authHandler.Register)
	mux.HandleFunc(base+"/auth/login", authHandler.Login)

	authed := middleware.Authenticate(tokens)
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authed(h))
	}
	employer := middleware.RequireRole(models.RoleEmployer)
	employee := middleware.RequireRole(models.RoleEmployee)
	admin := middleware.RequireRole(models.RoleAdmin)

	mux.Handle("POST "+base+"/jobs", authed(employer(http.HandlerFunc(jobsHandler.CreateJob))))
	handle("GET "+base+"/jobs", jobsHandler.ListJobs)
	handle("GET "+base+"/jobs/{id}", jobsHandler.GetJob)
	mux.Handle("POST "+base+"/jobs/{id}/apply", authed(employee(http.HandlerFunc(jobsHandler.Apply))))
	mux.Handle("POST "+base+"/jobs/{id}/withdraw", authed(employee(http.HandlerFunc(jobsHandler.Withdraw))))
	mux.Handle("POST "+base+"/jobs/{id}/assign", authed(employer(http.HandlerFunc(jobsHandler.Assign))))
	mux.Handle("POST "+base+"/jobs/{id}/start", authed(employee(http.HandlerFunc(jobsHandler.StartWork))))
	handle("POST "+base+"/jobs/{id}/complete", jobsHandler.MarkComplete)
	handle("POST "+base+"/jobs/{id}/cancel", jobsHandler.CancelJob)
	handle("GET "+base+"/jobs/{id}/escrow", jobsHandler.GetEscrowStatus)
	handle("GET "+base+"/jobs/{id}/deposit-instructions", jobsHandler.DepositInstructions)
	handle("GET "+base+"/jobs/{id}/applicants", jobsHandler.ListApplicants)
	mux.Handle("GET "+base+"/applications", authed(employee(http.HandlerFunc(jobsHandler.MyApplications))))
	mux.Handle("GET "+base+"/account/work-history", authed(employee(http.HandlerFunc(jobsHandler.WorkHistory))))
	mux.Handle("GET "+base+"/workers", authed(employer(http.HandlerFunc(jobsHandler.WorkersOverview))))
	mux.Handle("POST "+base+"/escrows/{id}/release", authed(admin(http.HandlerFunc(jobsHandler.ReleaseEscrow))))

	handle("GET "+base+"/account/me", dashHandler.GetMe)
	handle("PATCH "+base+"/account/contact", dashHandler.UpdateContact)
	handle("GET "+base+"/transactions", dashHandler.ListTransactions)

	return mux
}
