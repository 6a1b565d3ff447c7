package main

import (
	"net/http"
)

func composeRoutes(app *application) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthcheck", app.healthCheckHandler)

	mux.HandleFunc("POST /users/register", app.registerUserHandler)
	mux.HandleFunc("POST /users/login", app.loginUserHandler)
	mux.HandleFunc("GET /users/me", app.requireAuthenticatedUser(app.currentUserHandler))
	mux.HandleFunc("POST /users/forgot-password", app.forgotPasswordHandler)
	mux.HandleFunc("POST /users/verify-otp", app.verifyOTPHandler)
	mux.HandleFunc("POST /users/reset-password", app.resetPasswordHandler)

	mux.HandleFunc("GET /todos", app.requireAuthenticatedUser(app.getTodosHandler))
	mux.HandleFunc("POST /todos", app.requireAuthenticatedUser(app.createTodoHandler))
	mux.HandleFunc("GET /todos/{id}", app.requireAuthenticatedUser(app.getTodoHandler))
	mux.HandleFunc("PUT /todos/{id}", app.requireAuthenticatedUser(app.updateTodoHandler))
	mux.HandleFunc("DELETE /todos/{id}", app.requireAuthenticatedUser(app.deleteTodoHandler))
	mux.HandleFunc("PUT /todos/{id}/toggle", app.requireAuthenticatedUser(app.toggleTodoHandler))

	return app.enableCORS(mux)
}
