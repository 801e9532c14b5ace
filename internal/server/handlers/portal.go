package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// MaxUploadBytes bounds the multipart body accepted by /upload.
const MaxUploadBytes = 32 << 20

// Job statuses reported by /task-status.
const (
	StatusPending   = "PENDING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusCanceled  = "CANCELED"
)

// OutcomeFunc decides the terminal status of a job from its upload file name.
type OutcomeFunc func(fileName string) string

// DefaultOutcome succeeds unless the file name asks otherwise: names
// containing "fail" end FAILED, names containing "cancel" end CANCELED.
func DefaultOutcome(fileName string) string {
	name := strings.ToLower(filepath.Base(fileName))
	switch {
	case strings.Contains(name, "fail"):
		return StatusFailed
	case strings.Contains(name, "cancel"):
		return StatusCanceled
	default:
		return StatusSucceeded
	}
}

// PortalOptions configures the mock backend.
type PortalOptions struct {
	// PollsUntilDone is how many status queries report PENDING before the
	// outcome is revealed. Zero reveals it on the first poll.
	PollsUntilDone int

	// AdminUser is granted the admin flag when it registers.
	AdminUser string

	// RequireAuth rejects anonymous uploads.
	RequireAuth bool

	// Immediate answers uploads synchronously with a download URL instead
	// of a task id.
	Immediate bool

	// Outcome picks the terminal status; nil uses DefaultOutcome.
	Outcome OutcomeFunc

	// BcryptCost is the password hashing cost; zero uses bcrypt.DefaultCost.
	BcryptCost int

	// Logger receives request-level logs. Nil disables logging.
	Logger *zap.Logger
}

type account struct {
	hash    []byte
	isAdmin bool
}

type mockJob struct {
	id        string
	owner     string
	fileName  string
	modelFile string
	outcome   string
	polls     int
	artifact  []byte
}

// Portal is an in-memory implementation of the portal backend API.
type Portal struct {
	opts   PortalOptions
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	users  map[string]*account
	tokens map[string]string
	jobs   map[string]*mockJob
}

func NewPortal(opts PortalOptions) *Portal {
	if opts.PollsUntilDone < 0 {
		opts.PollsUntilDone = 0
	}
	if opts.Outcome == nil {
		opts.Outcome = DefaultOutcome
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Portal{
		opts:   opts,
		logger: logger,
		now:    time.Now,
		users:  make(map[string]*account),
		tokens: make(map[string]string),
		jobs:   make(map[string]*mockJob),
	}
}

// Routes mounts the portal endpoints on r.
func (p *Portal) Routes(r chi.Router) {
	r.Get("/", p.Home)
	r.Post("/register", p.Register)
	r.Post("/login", p.Login)
	r.Get("/all-users", p.AllUsers)
	r.Post("/upload", p.Upload)
	r.Get("/task-status/{id}", p.TaskStatus)
	r.Get("/download/{id}", p.Download)
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func decodeCredentials(r *http.Request) (credentials, error) {
	var c credentials
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return c, err
	}
	c.Username = strings.TrimSpace(c.Username)
	return c, nil
}

func (p *Portal) Home(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Backend is running!"})
}

func (p *Portal) Register(w http.ResponseWriter, r *http.Request) {
	c, err := decodeCredentials(r)
	if err != nil {
		RespondWithError(w, r, httpError(http.StatusBadRequest, "Invalid request body."))
		return
	}
	if c.Username == "" || c.Password == "" {
		RespondWithError(w, r, httpError(http.StatusBadRequest, "Username and password are required."))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(c.Password), p.opts.BcryptCost)
	if err != nil {
		p.logger.Error("Password hashing failed", zap.Error(err))
		RespondWithError(w, r, err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.users[c.Username]; exists {
		RespondWithError(w, r, httpError(http.StatusBadRequest, "Username already exists."))
		return
	}
	p.users[c.Username] = &account{
		hash:    hash,
		isAdmin: p.opts.AdminUser != "" && c.Username == p.opts.AdminUser,
	}
	p.logger.Info("User registered", zap.String("username", c.Username))
	writeJSON(w, http.StatusOK, map[string]string{"message": "User registered successfully"})
}

func (p *Portal) Login(w http.ResponseWriter, r *http.Request) {
	c, err := decodeCredentials(r)
	if err != nil {
		RespondWithError(w, r, httpError(http.StatusBadRequest, "Invalid request body."))
		return
	}
	if c.Username == "" || c.Password == "" {
		RespondWithError(w, r, httpError(http.StatusBadRequest, "Username and password are required."))
		return
	}

	p.mu.Lock()
	acct := p.users[c.Username]
	p.mu.Unlock()
	if acct == nil || bcrypt.CompareHashAndPassword(acct.hash, []byte(c.Password)) != nil {
		RespondWithError(w, r, httpError(http.StatusUnauthorized, "Invalid username or password."))
		return
	}

	token := uuid.New().String()
	p.mu.Lock()
	p.tokens[token] = c.Username
	p.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"token": token, "is_admin": acct.isAdmin})
}

// bearer resolves the request's bearer token to a username. ok is false
// when a token was sent but is unknown.
func (p *Portal) bearer(r *http.Request) (username string, present, ok bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return "", false, true
	}
	token, found := strings.CutPrefix(h, "Bearer ")
	if !found {
		return "", true, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	username, ok = p.tokens[strings.TrimSpace(token)]
	return username, true, ok
}

func (p *Portal) AllUsers(w http.ResponseWriter, r *http.Request) {
	username, present, ok := p.bearer(r)
	if !present || !ok {
		RespondWithError(w, r, httpError(http.StatusUnauthorized, "Not authenticated"))
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if acct := p.users[username]; acct == nil || !acct.isAdmin {
		RespondWithError(w, r, httpError(http.StatusForbidden, "Admin access required."))
		return
	}

	names := make([]string, 0, len(p.users))
	for name := range p.users {
		names = append(names, name)
	}
	sort.Strings(names)

	users := make(map[string]map[string]bool, len(names))
	for _, name := range names {
		users[name] = map[string]bool{"is_admin": p.users[name].isAdmin}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (p *Portal) Upload(w http.ResponseWriter, r *http.Request) {
	username, present, ok := p.bearer(r)
	if present && !ok {
		RespondWithError(w, r, httpError(http.StatusUnauthorized, "Invalid token"))
		return
	}
	if p.opts.RequireAuth && !present {
		RespondWithError(w, r, httpError(http.StatusUnauthorized, "Not authenticated"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			RespondWithError(w, r, httpError(http.StatusRequestEntityTooLarge, "File too large."))
			return
		}
		RespondWithError(w, r, httpError(http.StatusBadRequest, "An image file is required."))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	f, hdr, err := r.FormFile("file")
	if err != nil {
		RespondWithError(w, r, httpError(http.StatusBadRequest, "An image file is required."))
		return
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	if err != nil || len(data) == 0 {
		RespondWithError(w, r, httpError(http.StatusBadRequest, "An image file is required."))
		return
	}

	if username == "" {
		username = strings.TrimSpace(r.FormValue("username"))
	}
	if username == "" {
		username = "guest"
	}

	base := strings.TrimSuffix(filepath.Base(hdr.Filename), filepath.Ext(hdr.Filename))
	if base == "" || base == "." {
		base = "model"
	}
	modelFile := fmt.Sprintf("%s_%d.glb", base, p.now().Unix())

	job := &mockJob{
		id:        uuid.New().String(),
		owner:     username,
		fileName:  hdr.Filename,
		modelFile: modelFile,
		outcome:   p.opts.Outcome(hdr.Filename),
		artifact:  BuildGLB(hdr.Filename, data),
	}

	if p.opts.Immediate {
		if job.outcome != StatusSucceeded {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Task " + job.outcome, "details": map[string]string{"status": job.outcome}})
			return
		}
		job.id = modelFile
		job.polls = p.opts.PollsUntilDone + 1
		p.mu.Lock()
		p.jobs[job.id] = job
		p.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{
			"model_file":   modelFile,
			"download_url": "/download/" + modelFile,
		})
		return
	}

	p.mu.Lock()
	p.jobs[job.id] = job
	p.mu.Unlock()

	p.logger.Info("Job created",
		zap.String("job_id", job.id),
		zap.String("file", hdr.Filename),
		zap.String("username", username),
		zap.String("outcome", job.outcome))
	writeJSON(w, http.StatusOK, map[string]string{"task_id": job.id})
}

func (p *Portal) TaskStatus(w http.ResponseWriter, r *http.Request) {
	if _, present, ok := p.bearer(r); present && !ok {
		RespondWithError(w, r, httpError(http.StatusUnauthorized, "Invalid token"))
		return
	}

	id := chi.URLParam(r, "id")
	p.mu.Lock()
	defer p.mu.Unlock()

	job := p.jobs[id]
	if job == nil {
		RespondWithError(w, r, httpError(http.StatusNotFound, "Task not found"))
		return
	}

	job.polls++
	if job.polls <= p.opts.PollsUntilDone {
		progress := job.polls * 100 / (p.opts.PollsUntilDone + 1)
		writeJSON(w, http.StatusOK, map[string]any{"status": StatusPending, "progress": progress})
		return
	}

	body := map[string]any{"status": job.outcome}
	if job.outcome == StatusSucceeded {
		body["progress"] = 100
		body["download_url"] = "/download/" + job.id
	}
	writeJSON(w, http.StatusOK, body)
}

func (p *Portal) Download(w http.ResponseWriter, r *http.Request) {
	if _, present, ok := p.bearer(r); present && !ok {
		RespondWithError(w, r, httpError(http.StatusUnauthorized, "Invalid token"))
		return
	}

	id := chi.URLParam(r, "id")
	p.mu.Lock()
	job := p.jobs[id]
	ready := job != nil && job.outcome == StatusSucceeded && job.polls > p.opts.PollsUntilDone
	p.mu.Unlock()

	if !ready {
		RespondWithError(w, r, httpError(http.StatusNotFound, "File not found"))
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", job.modelFile))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(job.artifact)
}
