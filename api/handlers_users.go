package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const forgotPasswordMessage = "If your email is registered, you will receive an OTP"

func (app *application) registerUserHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	err := json.NewDecoder(r.Body).Decode(&input)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	v := newValidator()
	v.checkEmail(input.Email)
	v.checkUsername(input.Username)
	v.checkPassword(input.Password)
	if v.hasErrors() {
		writeError(w, v.toError(), http.StatusBadRequest)
		return
	}

	existing, err := app.storage.getUserByEmail(input.Email)
	if err != nil {
		log.Println(err)
		writeError(w, errors.New("internal server error"), http.StatusInternalServerError)
		return
	}
	if existing != nil {
		writeError(w, errors.New("email already registered"), http.StatusConflict)
		return
	}
	existing, err = app.storage.getUserByUsername(input.Username)
	if err != nil {
		log.Println(err)
		writeError(w, errors.New("internal server error"), http.StatusInternalServerError)
		return
	}
	if existing != nil {
		writeError(w, errors.New("username already taken"), http.StatusConflict)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Println(err)
		writeError(w, errors.New("internal server error"), http.StatusInternalServerError)
		return
	}
	u := &user{
		Email:        input.Email,
		Username:     input.Username,
		PasswordHash: hash,
		IsActive:     true,
	}
	err = app.storage.insertUser(u)
	if err != nil {
		// the pre-checks race with concurrent registrations; the unique
		// constraints have the final say
		if isUniqueViolation(err) {
			writeError(w, errors.New("email or username already taken"), http.StatusConflict)
			return
		}
		log.Println(err)
		writeError(w, errors.New("internal server error"), http.StatusInternalServerError)
		return
	}
	writeJSON(w, u, http.StatusCreated)
}

func (app *application) loginUserHandler(w http.ResponseWriter, r *http.Request) {
	err := r.ParseForm()
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	identifier := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if identifier == "" || password == "" {
		writeError(w, errors.New("username and password must be provided"), http.StatusBadRequest)
		return
	}

	u, err := app.storage.getUserByEmail(identifier)
	if err != nil {
		log.Println(err)
		writeError(w, errors.New("internal server error"), http.StatusInternalServerError)
		return
	}
	if u == nil {
		u, err = app.storage.getUserByUsername(identifier)
		if err != nil {
			log.Println(err)
			writeError(w, errors.New("internal server error"), http.StatusInternalServerError)
			return
		}
	}
	if u == nil || !u.IsActive {
		writeError(w, errors.New("incorrect username or password"), http.StatusUnauthorized)
		return
	}
	err = bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password))
	if err != nil {
		writeError(w, errors.New("incorrect username or password"), http.StatusUnauthorized)
		return
	}

	token, err := issueToken(u.ID, []byte(app.config.jwt.secret), app.config.jwt.expiry)
	if err != nil {
		log.Println(err)
		writeError(w, errors.New("internal server error"), http.StatusInternalServerError)
		return
	}
	response := struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}{
		AccessToken: token,
		TokenType:   "bearer",
	}
	writeJSON(w, response, http.StatusOK)
}

func (app *application) currentUserHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, getUserFromRequest(r), http.StatusOK)
}

func (app *application) forgotPasswordHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email string `json:"email"`
	}
	err := json.NewDecoder(r.Body).Decode(&input)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	v := newValidator()
	v.checkEmail(input.Email)
	if v.hasErrors() {
		writeError(w, v.toError(), http.StatusBadRequest)
		return
	}

	u, err := app.storage.getUserByEmail(input.Email)
	if err != nil {
		log.Println(err)
		writeError(w, errors.New("internal server error"), http.StatusInternalServerError)
		return
	}
	if u == nil {
		// same response as below so callers can't probe which emails exist
		writeMessage(w, forgotPasswordMessage, http.StatusOK)
		return
	}

	o := &otp{
		Email:     input.Email,
		Code:      fmt.Sprintf("%06d", rand.Intn(1000000)),
		ExpiresAt: time.Now().Add(app.config.otpValidity),
	}
	err = app.storage.createOTP(o)
	if err != nil {
		log.Println(err)
		writeError(w, errors.New("internal server error"), http.StatusInternalServerError)
		return
	}

	go func() {
		data := struct {
			Code    string
			Minutes int
		}{
			Code:    o.Code,
			Minutes: int(app.config.otpValidity.Minutes()),
		}
		err := app.mailer.send(o.Email, otpEmailTemplate, data)
		if err != nil {
			log.Println(err)
		}
	}()

	writeMessage(w, forgotPasswordMessage, http.StatusOK)
}

// verifyOTPHandler is advisory: it reports whether the code would be accepted
// but does not consume it. Only a reset marks the code used.
func (app *application) verifyOTPHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	err := json.NewDecoder(r.Body).Decode(&input)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	v := newValidator()
	v.checkEmail(input.Email)
	v.checkOTP(input.OTP)
	if v.hasErrors() {
		writeError(w, v.toError(), http.StatusBadRequest)
		return
	}

	o, err := app.storage.getValidOTP(input.Email, input.OTP)
	if err != nil {
		log.Println(err)
		writeError(w, errors.New("internal server error"), http.StatusInternalServerError)
		return
	}
	if o == nil {
		writeError(w, errors.New("invalid or expired OTP"), http.StatusBadRequest)
		return
	}
	writeMessage(w, "OTP verified successfully", http.StatusOK)
}

func (app *application) resetPasswordHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email       string `json:"email"`
		OTP         string `json:"otp"`
		NewPassword string `json:"new_password"`
	}
	err := json.NewDecoder(r.Body).Decode(&input)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	v := newValidator()
	v.checkEmail(input.Email)
	v.checkOTP(input.OTP)
	v.checkPassword(input.NewPassword)
	if v.hasErrors() {
		writeError(w, v.toError(), http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Println(err)
		writeError(w, errors.New("internal server error"), http.StatusInternalServerError)
		return
	}
	err = app.storage.resetPassword(input.Email, input.OTP, hash)
	if err != nil {
		switch {
		case errors.Is(err, errInvalidOTP):
			writeError(w, errors.New("invalid or expired OTP"), http.StatusBadRequest)
		case errors.Is(err, errNotFound):
			writeError(w, errors.New("user not found"), http.StatusNotFound)
		default:
			log.Println(err)
			writeError(w, errors.New("internal server error"), http.StatusInternalServerError)
		}
		return
	}
	writeMessage(w, "Password reset successfully", http.StatusOK)
}
