package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/invobilled/invobilled/web/internal/middleware"
)

// Register adds the sign-in and API routes to router
func (h *Handler) Register(router *mux.Router, authMw *middleware.AuthMiddleware) {
	// Public routes (no auth required)
	router.HandleFunc(middleware.SignInPath, h.SignIn).Methods("GET")
	router.HandleFunc("/sign-up", h.SignUp).Methods("GET")
	router.HandleFunc("/auth/callback", h.AuthCallback).Methods("GET")
	router.HandleFunc("/logout", h.Logout).Methods("GET", "POST")

	// API routes (auth required)
	api := router.PathPrefix("/api").Subrouter()
	api.Handle("/me", authMw.RequireAuth(http.HandlerFunc(h.Me))).Methods("GET")
	api.Handle("/invoices", authMw.RequireAuth(http.HandlerFunc(h.ListInvoices))).Methods("GET")
	api.Handle("/invoices", authMw.RequireAuth(http.HandlerFunc(h.SaveInvoice))).Methods("POST")
	api.Handle("/invoices/send", authMw.RequireAuth(http.HandlerFunc(h.SendInvoice))).Methods("POST")
	api.Handle("/invoices/{id}", authMw.RequireAuth(http.HandlerFunc(h.DeleteInvoice))).Methods("DELETE")
	api.Handle("/uploads/thumbnail", authMw.RequireAuth(http.HandlerFunc(h.UploadThumbnail))).Methods("POST")
}
