package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
)

const defaultTodosLimit = 100

func (app *application) getTodosHandler(w http.ResponseWriter, r *http.Request) {
	u := getUserFromRequest(r)

	var completed *bool
	if s := r.URL.Query().Get("completed"); s != "" {
		c, err := strconv.ParseBool(s)
		if err != nil {
			writeError(w, errors.New(`query parameter "completed" must be true or false`), http.StatusBadRequest)
			return
		}
		completed = &c
	}
	skip := queryInt(r, "skip", 0)
	limit := queryInt(r, "limit", defaultTodosLimit)

	todos, err := app.storage.getTodos(u.ID, completed, skip, limit)
	if err != nil {
		log.Println(err)
		writeError(w, errors.New("internal server error"), http.StatusInternalServerError)
		return
	}
	writeJSON(w, todos, http.StatusOK)
}

func (app *application) createTodoHandler(w http.ResponseWriter, r *http.Request) {
	u := getUserFromRequest(r)

	var input struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Completed   bool   `json:"completed"`
	}
	err := json.NewDecoder(r.Body).Decode(&input)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	v := newValidator()
	v.checkTitle(input.Title)
	v.checkDescription(input.Description)
	if v.hasErrors() {
		writeError(w, v.toError(), http.StatusBadRequest)
		return
	}

	t := &todo{
		UserID:      u.ID,
		Title:       input.Title,
		Description: input.Description,
		Completed:   input.Completed,
	}
	err = app.storage.insertTodo(t)
	if err != nil {
		log.Println(err)
		writeError(w, errors.New("internal server error"), http.StatusInternalServerError)
		return
	}
	writeJSON(w, t, http.StatusCreated)
}

func (app *application) getTodoHandler(w http.ResponseWriter, r *http.Request) {
	u := getUserFromRequest(r)
	id, err := pathID(r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	t, err := app.storage.getTodo(u.ID, id)
	if err != nil {
		log.Println(err)
		writeError(w, errors.New("internal server error"), http.StatusInternalServerError)
		return
	}
	if t == nil {
		writeError(w, errors.New("todo not found"), http.StatusNotFound)
		return
	}
	writeJSON(w, t, http.StatusOK)
}

func (app *application) updateTodoHandler(w http.ResponseWriter, r *http.Request) {
	u := getUserFromRequest(r)
	id, err := pathID(r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}

	var input struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
		Completed   *bool   `json:"completed"`
	}
	err = json.NewDecoder(r.Body).Decode(&input)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}

	t, err := app.storage.getTodo(u.ID, id)
	if err != nil {
		log.Println(err)
		writeError(w, errors.New("internal server error"), http.StatusInternalServerError)
		return
	}
	if t == nil {
		writeError(w, errors.New("todo not found"), http.StatusNotFound)
		return
	}

	if input.Title != nil {
		t.Title = *input.Title
	}
	if input.Description != nil {
		t.Description = *input.Description
	}
	if input.Completed != nil {
		t.Completed = *input.Completed
	}
	v := newValidator()
	v.checkTitle(t.Title)
	v.checkDescription(t.Description)
	if v.hasErrors() {
		writeError(w, v.toError(), http.StatusBadRequest)
		return
	}

	err = app.storage.updateTodo(t)
	if err != nil {
		app.writeTodoError(w, err)
		return
	}
	writeJSON(w, t, http.StatusOK)
}

func (app *application) deleteTodoHandler(w http.ResponseWriter, r *http.Request) {
	u := getUserFromRequest(r)
	id, err := pathID(r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	err = app.storage.deleteTodo(u.ID, id)
	if err != nil {
		app.writeTodoError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (app *application) toggleTodoHandler(w http.ResponseWriter, r *http.Request) {
	u := getUserFromRequest(r)
	id, err := pathID(r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	t, err := app.storage.getTodo(u.ID, id)
	if err != nil {
		log.Println(err)
		writeError(w, errors.New("internal server error"), http.StatusInternalServerError)
		return
	}
	if t == nil {
		writeError(w, errors.New("todo not found"), http.StatusNotFound)
		return
	}

	t.Completed = !t.Completed
	err = app.storage.updateTodo(t)
	if err != nil {
		app.writeTodoError(w, err)
		return
	}
	writeJSON(w, t, http.StatusOK)
}

func (app *application) writeTodoError(w http.ResponseWriter, err error) {
	if errors.Is(err, errNotFound) {
		writeError(w, errors.New("todo not found"), http.StatusNotFound)
		return
	}
	log.Println(err)
	writeError(w, errors.New("internal server error"), http.StatusInternalServerError)
}

func pathID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id < 1 {
		return 0, errors.New("invalid id parameter")
	}
	return id, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
