// Package devserver is a local stand-in for the document processing backend.
// It accepts uploads, simulates processing over a configurable number of
// status polls and creates projects in memory.
package devserver

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/jacobsvennevik/marepo/internal/client"
	"github.com/jacobsvennevik/marepo/internal/extract"
	"github.com/jacobsvennevik/marepo/internal/mode"
	"github.com/jacobsvennevik/marepo/internal/upload"
)

// DefaultPollsUntilComplete is how many status checks report processing
// before a document completes.
const DefaultPollsUntilComplete = 2

// Options configures the simulated backend.
type Options struct {
	// Token, when set, is required as a bearer token on every API request.
	Token string
	// PollsUntilComplete status checks answer "processing" first.
	PollsUntilComplete int
	// FailPattern makes processing fail for files whose name contains it.
	FailPattern string
	// OmitProcessed completes documents without processed data so clients
	// fall back to raw metadata and text.
	OmitProcessed  bool
	MaxUploadBytes int64
	Logger         *slog.Logger
}

type document struct {
	id        string
	name      string
	mediaType string
	size      int64
	pages     int
	text      string
	taskID    string
	polls     int
	mock      bool
}

// Server holds the in-memory backend state.
type Server struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	docs     map[string]*document
	projects map[string]client.ProjectInput
}

// New creates a backend with empty state.
func New(opts Options) *Server {
	if opts.PollsUntilComplete < 0 {
		opts.PollsUntilComplete = 0
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 25 << 20
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		opts:     opts,
		logger:   logger,
		docs:     make(map[string]*document),
		projects: make(map[string]client.ProjectInput),
	}
}

// Handler returns the gin engine serving the API under /api.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), LoggingMiddleware(s.logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v := r.Group("/api", s.auth)
	v.POST("/documents/", s.uploadDocument)
	v.POST("/documents/:id/process/", s.processDocument)
	v.GET("/documents/:id/status/", s.documentStatus)
	v.GET("/documents/:id/processed_data/", s.processedData)
	v.POST("/projects/", s.createProject)
	return r
}

func (s *Server) auth(c *gin.Context) {
	if s.opts.Token == "" {
		c.Next()
		return
	}
	if c.GetHeader("Authorization") != "Bearer "+s.opts.Token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
		return
	}
	c.Next()
}

func (s *Server) lookup(c *gin.Context) (*document, bool) {
	doc, ok := s.docs[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
	}
	return doc, ok
}

func (s *Server) uploadDocument(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
		return
	}
	if fh.Size > s.opts.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file exceeds %s", upload.HumanBytes(s.opts.MaxUploadBytes))})
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}

	mediaType := fh.Header.Get("Content-Type")
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = upload.DetectMediaType(fh.Filename)
	}
	doc := &document{
		id:        uuid.New().String(),
		name:      filepath.Base(fh.Filename),
		mediaType: mediaType,
		size:      int64(len(content)),
		mock:      isMock(c),
	}
	switch {
	case mediaType == "application/pdf":
		doc.pages = pageCount(content, s.logger)
	case strings.HasPrefix(mediaType, "text/"):
		doc.text = string(content)
	}

	s.mu.Lock()
	s.docs[doc.id] = doc
	s.mu.Unlock()

	s.logger.Info("document uploaded", "id", doc.id, "name", doc.name, "size", doc.size, "pages", doc.pages)
	c.JSON(http.StatusCreated, client.Document{ID: doc.id, Status: "uploaded"})
}

// pageCount reads the page count of a PDF. Unparseable files count as zero.
func pageCount(content []byte, logger *slog.Logger) int {
	n, err := api.PageCount(bytes.NewReader(content), nil)
	if err != nil {
		logger.Debug("could not read pdf page count", "error", err)
		return 0
	}
	return n
}

func (s *Server) processDocument(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.lookup(c)
	if !ok {
		return
	}
	if doc.taskID == "" {
		doc.taskID = uuid.New().String()
		doc.polls = 0
	}
	if isMock(c) {
		doc.mock = true
	}
	c.JSON(http.StatusAccepted, client.ProcessingTask{TaskID: doc.taskID, Status: "processing"})
}

func (s *Server) documentStatus(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.lookup(c)
	if !ok {
		return
	}
	if doc.taskID == "" {
		c.JSON(http.StatusOK, client.DocumentStatus{Status: "uploaded"})
		return
	}
	if task := c.Query("task_id"); task != "" && task != doc.taskID {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown task"})
		return
	}

	doc.polls++
	if !doc.mock && doc.polls <= s.opts.PollsUntilComplete {
		c.JSON(http.StatusOK, client.DocumentStatus{Status: "processing"})
		return
	}
	if s.opts.FailPattern != "" && strings.Contains(doc.name, s.opts.FailPattern) {
		c.JSON(http.StatusOK, client.DocumentStatus{Status: "error", Error: "could not read " + doc.name})
		return
	}

	st := client.DocumentStatus{
		Status:       "completed",
		Metadata:     doc.metadata(),
		OriginalText: doc.text,
	}
	if !s.opts.OmitProcessed {
		st.ProcessedData = doc.processed()
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) processedData(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.lookup(c)
	if !ok {
		return
	}
	if s.opts.OmitProcessed || doc.taskID == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no processed data"})
		return
	}
	c.JSON(http.StatusOK, doc.processed())
}

func (s *Server) createProject(c *gin.Context) {
	var in client.ProjectInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(in.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	id := uuid.New().String()
	s.mu.Lock()
	s.projects[id] = in
	s.mu.Unlock()

	s.logger.Info("project created", "id", id, "name", in.Name, "documents", len(in.DocumentIDs))
	c.JSON(http.StatusCreated, client.Project{ID: id, Name: in.Name})
}

// Project returns a created project's payload.
func (s *Server) Project(id string) (client.ProjectInput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return client.ProjectInput{}, errors.New("project not found")
	}
	return p, nil
}

func (d *document) metadata() map[string]any {
	md := map[string]any{
		"file_name":  d.name,
		"media_type": d.mediaType,
		"size":       d.size,
	}
	if d.pages > 0 {
		md["pages"] = d.pages
	}
	return md
}

// processed builds the simulated analysis result. Text documents are
// analyzed from their content; anything else gets the canned result for
// its name.
func (d *document) processed() map[string]any {
	md := extract.FromRaw(nil, d.text)
	if md.Empty() {
		md = extract.Mock(d.name)
	}
	return map[string]any{
		"course_title":      md.CourseTitle,
		"course_code":       md.CourseCode,
		"instructor":        md.Instructor,
		"term":              md.Term,
		"description":       md.Description,
		"topics":            md.Topics,
		"learning_outcomes": md.LearningOutcomes,
		"exams":             md.Exams,
		"assignments":       md.Assignments,
		"confidence":        0.92,
	}
}

func isMock(c *gin.Context) bool {
	mock, _ := mode.FromContext(mode.FromRequest(c.Request))
	return mock
}
