package main

import (
	"bytes"
	"encoding/json"
	"html/template"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeStorage is an in-memory storage implementation so handler flows can be
// tested without postgres. Methods hand out copies, like a real row scan.
type fakeStorage struct {
	mu     sync.Mutex
	users  map[int]user
	todos  map[int]todo
	otps   []otp
	nextID int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		users: make(map[int]user),
		todos: make(map[int]todo),
	}
}

func (s *fakeStorage) insertUser(u *user) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	u.ID = s.nextID
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	s.users[u.ID] = *u
	return nil
}

func (s *fakeStorage) getUserByID(id int) (*user, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *fakeStorage) getUserByEmail(email string) (*user, error) {
	return s.findUser(func(u user) bool { return u.Email == email })
}

func (s *fakeStorage) getUserByUsername(username string) (*user, error) {
	return s.findUser(func(u user) bool { return u.Username == username })
}

func (s *fakeStorage) findUser(match func(user) bool) (*user, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if match(u) {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *fakeStorage) createOTP(o *otp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.otps[:0]
	for _, e := range s.otps {
		if e.Email != o.Email {
			kept = append(kept, e)
		}
	}
	s.otps = kept
	s.nextID++
	o.ID = s.nextID
	o.CreatedAt = time.Now()
	s.otps = append(s.otps, *o)
	return nil
}

func (s *fakeStorage) getValidOTP(email, code string) (*otp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.findValidOTP(email, code)
	if o == nil {
		return nil, nil
	}
	found := *o
	return &found, nil
}

func (s *fakeStorage) findValidOTP(email, code string) *otp {
	var newest *otp
	for i := range s.otps {
		o := &s.otps[i]
		if o.Email != email || o.Code != code || o.IsUsed || !o.ExpiresAt.After(time.Now()) {
			continue
		}
		if newest == nil || o.CreatedAt.After(newest.CreatedAt) {
			newest = o
		}
	}
	return newest
}

func (s *fakeStorage) resetPassword(email, code string, passwordHash []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.findValidOTP(email, code)
	if o == nil {
		return errInvalidOTP
	}
	var target *user
	for id := range s.users {
		u := s.users[id]
		if u.Email == email && u.IsActive {
			target = &u
			break
		}
	}
	if target == nil {
		return errNotFound
	}
	target.PasswordHash = passwordHash
	target.UpdatedAt = time.Now()
	s.users[target.ID] = *target
	o.IsUsed = true
	return nil
}

func (s *fakeStorage) getTodos(userID int, completed *bool, skip, limit int) ([]todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	todos := []todo{}
	for _, t := range s.todos {
		if t.UserID != userID {
			continue
		}
		if completed != nil && t.Completed != *completed {
			continue
		}
		todos = append(todos, t)
	}
	sort.Slice(todos, func(i, j int) bool { return todos[i].ID < todos[j].ID })
	if skip >= len(todos) {
		return []todo{}, nil
	}
	todos = todos[skip:]
	if limit < len(todos) {
		todos = todos[:limit]
	}
	return todos, nil
}

func (s *fakeStorage) getTodo(userID, todoID int) (*todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.todos[todoID]
	if !ok || t.UserID != userID {
		return nil, nil
	}
	return &t, nil
}

func (s *fakeStorage) insertTodo(t *todo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t.ID = s.nextID
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	s.todos[t.ID] = *t
	return nil
}

func (s *fakeStorage) updateTodo(t *todo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.todos[t.ID]
	if !ok || existing.UserID != t.UserID {
		return errNotFound
	}
	t.UpdatedAt = time.Now()
	s.todos[t.ID] = *t
	return nil
}

func (s *fakeStorage) deleteTodo(userID, todoID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.todos[todoID]
	if !ok || t.UserID != userID {
		return errNotFound
	}
	delete(s.todos, todoID)
	return nil
}

type fakeMailer struct {
	mu    sync.Mutex
	sends []string
}

func (m *fakeMailer) send(to string, tmpl *template.Template, data any) error {
	// render for real so broken templates fail tests too
	var body bytes.Buffer
	err := tmpl.ExecuteTemplate(&body, "plainBody", data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, to)
	return nil
}

func (m *fakeMailer) sentTo() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sends...)
}

func newTestApplication() (*application, *fakeStorage, *fakeMailer) {
	var cfg config
	cfg.env = "testing"
	cfg.jwt.secret = "test-secret"
	cfg.jwt.expiry = 30 * time.Minute
	cfg.otpValidity = 15 * time.Minute
	cfg.cors.trustedOrigins = []string{"*"}

	st := newFakeStorage()
	m := &fakeMailer{}
	app := &application{
		config:  cfg,
		storage: st,
		mailer:  m,
	}
	return app, st, m
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	r := httptest.NewRequest(method, path, reader)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w
}

func doForm(t *testing.T, handler http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var value T
	err := json.NewDecoder(w.Body).Decode(&value)
	if err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return value
}

func registerUser(t *testing.T, handler http.Handler, email, username, password string) {
	t.Helper()
	w := doJSON(t, handler, http.MethodPost, "/users/register", "", map[string]string{
		"email":    email,
		"username": username,
		"password": password,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s: got status %d, body %s", username, w.Code, w.Body.String())
	}
}

func loginUser(t *testing.T, handler http.Handler, identifier, password string) string {
	t.Helper()
	w := doForm(t, handler, "/users/login", url.Values{
		"username": {identifier},
		"password": {password},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: got status %d, body %s", identifier, w.Code, w.Body.String())
	}
	resp := decodeJSON[struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}](t, w)
	if resp.AccessToken == "" {
		t.Fatal("login returned empty access_token")
	}
	return resp.AccessToken
}
