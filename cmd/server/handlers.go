package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/himanishpuri/landmarkdna/internal/config"
	"github.com/himanishpuri/landmarkdna/pkg/landmark"
	"github.com/himanishpuri/landmarkdna/pkg/landmark/fingerprint"
	"github.com/himanishpuri/landmarkdna/pkg/landmark/storage"
	"github.com/himanishpuri/landmarkdna/pkg/logger"
	"github.com/himanishpuri/landmarkdna/pkg/utils"
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	service landmark.Service
	config  *config.Config
	log     *logger.Logger
	started time.Time
}

// NewServer creates a new server instance
func NewServer(service landmark.Service, cfg *config.Config, log *logger.Logger) *Server {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Server{
		service: service,
		config:  cfg,
		log:     log.With("http"),
		started: time.Now(),
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   message,
		Code:      statusCode,
		RequestID: requestID(r.Context()),
	})
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, fingerprint.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, fingerprint.ErrInsufficientSignal):
		return http.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrSongNotFound):
		return http.StatusNotFound
	case errors.Is(err, fingerprint.ErrStorage):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, what string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.Errorf("[%s] %s: %v", requestID(r.Context()), what, err)
	} else {
		s.log.Warnf("[%s] %s: %v", requestID(r.Context()), what, err)
	}
	s.respondError(w, r, code, fmt.Sprintf("%s: %v", what, err))
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": "landmarkdna API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":         "GET /health",
			"metrics":        "GET /api/health/metrics",
			"songs":          "GET /api/songs",
			"addSongFile":    "POST /api/songs",
			"getSong":        "GET /api/songs/{id}",
			"deleteSong":     "DELETE /api/songs/{id}",
			"matchFile":      "POST /api/match",
			"matchLandmarks": "POST /api/match/landmarks",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// handleMetrics handles GET /api/health/metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		s.respondServiceError(w, r, "Failed to retrieve metrics", err)
		return
	}

	s.respondJSON(w, http.StatusOK, MetricsResponse{
		Status:           "healthy",
		StorageDriver:    s.config.Storage.Driver,
		SongCount:        stats.Songs,
		FingerprintCount: stats.Fingerprints,
		SampleRate:       s.config.Fingerprint.Spectrogram.SampleRate,
	})
}

// handleListSongs handles GET /api/songs
func (s *Server) handleListSongs(w http.ResponseWriter, r *http.Request) {
	songs, err := s.service.ListSongs(r.Context())
	if err != nil {
		s.respondServiceError(w, r, "Failed to retrieve songs", err)
		return
	}

	songDTOs := make([]SongDTO, len(songs))
	for i, song := range songs {
		songDTOs[i] = newSongDTO(song)
	}

	s.respondJSON(w, http.StatusOK, ListSongsResponse{
		Songs: songDTOs,
		Count: len(songDTOs),
	})
}

// handleGetSong handles GET /api/songs/{id}
func (s *Server) handleGetSong(w http.ResponseWriter, r *http.Request, songID uint32) {
	song, err := s.service.GetSongByID(r.Context(), songID)
	if err != nil {
		s.respondServiceError(w, r, fmt.Sprintf("Song with ID %d", songID), err)
		return
	}
	s.respondJSON(w, http.StatusOK, newSongDTO(song))
}

// handleDeleteSong handles DELETE /api/songs/{id}
func (s *Server) handleDeleteSong(w http.ResponseWriter, r *http.Request, songID uint32) {
	if err := s.service.DeleteSong(r.Context(), songID); err != nil {
		s.respondServiceError(w, r, fmt.Sprintf("Failed to delete song %d", songID), err)
		return
	}

	s.respondJSON(w, http.StatusOK, DeleteSongResponse{
		Message: "Song deleted successfully",
		ID:      songID,
	})
}

// saveUpload copies the multipart file field "audio" into a fresh
// directory under the temp dir. The caller calls removeUpload.
func (s *Server) saveUpload(w http.ResponseWriter, r *http.Request, prefix string) (string, error) {
	limit := s.config.Server.MaxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		return "", fmt.Errorf("failed to parse form data: %w", err)
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		return "", errors.New("audio file is required")
	}
	defer file.Close()

	// The upload keeps its own name so the title fallback sees it.
	dir := filepath.Join(s.config.TempDir, fmt.Sprintf("%s_%s", prefix, uuid.NewString()))
	if err := utils.MakeDir(dir); err != nil {
		return "", err
	}
	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) {
		name = "audio"
	}
	tempFile := filepath.Join(dir, name)
	out, err := os.Create(tempFile)
	if err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.RemoveAll(dir)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	return tempFile, nil
}

// removeUpload deletes a file written by saveUpload and its directory.
func removeUpload(path string) {
	os.RemoveAll(filepath.Dir(path))
}

// handleAddSongFile handles POST /api/songs (multipart file upload)
func (s *Server) handleAddSongFile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	tempFile, err := s.saveUpload(w, r, "upload")
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	defer removeUpload(tempFile)

	// Empty title and artist fall back to tags, then the upload name.
	res, err := s.service.AddSong(ctx, tempFile, r.FormValue("title"), r.FormValue("artist"))
	if err != nil {
		s.respondServiceError(w, r, "Failed to add song", err)
		return
	}

	status, msg := http.StatusCreated, "Song added successfully"
	if !res.Created {
		status, msg = http.StatusOK, "Song already present"
	}
	s.respondJSON(w, status, AddSongResponse{
		Message:   msg,
		ID:        res.Song.ID,
		Title:     res.Song.Title,
		Artist:    res.Song.Artist,
		Created:   res.Created,
		Landmarks: res.Landmarks,
	})
}

// handleMatchFile handles POST /api/match (multipart file upload)
func (s *Server) handleMatchFile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	tempFile, err := s.saveUpload(w, r, "query")
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	defer removeUpload(tempFile)

	res, err := s.service.MatchSong(ctx, tempFile)
	if err != nil {
		s.respondServiceError(w, r, "Failed to match song", err)
		return
	}
	s.respondJSON(w, http.StatusOK, newMatchResponse(res))
}

// handleMatchLandmarks handles POST /api/match/landmarks (landmarks computed by WASM clients)
func (s *Server) handleMatchLandmarks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	var req MatchLandmarksRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.config.Server.MaxUploadMB<<20)).Decode(&req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	landmarks, err := req.Validate(s.config.Fingerprint)
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(landmarks) >= LandmarkWarningThreshold {
		s.log.Warnf("Large landmark batch received: %d landmarks", len(landmarks))
	}

	res, err := s.service.MatchLandmarks(ctx, landmarks)
	if err != nil {
		s.respondServiceError(w, r, "Failed to match landmarks", err)
		return
	}
	s.respondJSON(w, http.StatusOK, newMatchResponse(res))
}

// handleSongs routes requests to /api/songs
func (s *Server) handleSongs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListSongs(w, r)
	case http.MethodPost:
		s.handleAddSongFile(w, r)
	default:
		s.respondError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleSong routes requests to /api/songs/{id}
func (s *Server) handleSong(w http.ResponseWriter, r *http.Request) {
	idStr := r.URL.Path[len("/api/songs/"):]
	if idStr == "" {
		s.respondError(w, r, http.StatusBadRequest, "Song ID required")
		return
	}

	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, "Invalid song ID")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetSong(w, r, uint32(id))
	case http.MethodDelete:
		s.handleDeleteSong(w, r, uint32(id))
	default:
		s.respondError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleMatch routes requests to /api/match
func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.handleMatchFile(w, r)
}

// handleMatchLandmarksRoute routes requests to /api/match/landmarks
func (s *Server) handleMatchLandmarksRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.handleMatchLandmarks(w, r)
}
