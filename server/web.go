package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/cors"
	"github.com/zenazn/goji/web"
	"github.com/zenazn/goji/web/middleware"

	"github.com/janelia-flyem/labelset/dvid"
	"github.com/janelia-flyem/labelset/storage"
)

// MaxPostSize is the largest accepted POST body in bytes.
const MaxPostSize = 256 * dvid.Mega

// BadRequest writes a 400 error with the message and logs it.
func BadRequest(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	writeError(w, r, http.StatusBadRequest, format, args...)
}

// Unauthorized writes a 401 error with the message and logs it.
func Unauthorized(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	writeError(w, r, http.StatusUnauthorized, format, args...)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	errorMsg := fmt.Sprintf("%s (%s).", message, r.URL.Path)
	dvid.Errorf("%s %s\n", r.Method, errorMsg)
	http.Error(w, errorMsg, status)
}

func writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		dvid.Errorf("Unable to write JSON response to %s: %v\n", r.URL.Path, err)
	}
}

// Handler returns the HTTP handler for the labelset API.
func (s *Service) Handler() http.Handler {
	mux := web.New()
	mux.Use(middleware.RequestID)
	mux.Use(logRequests)
	mux.Use(middleware.Recoverer)
	if len(s.config.Server.CorsDomains) > 0 {
		mux.Use(cors.New(cors.Options{
			AllowedOrigins:   s.config.Server.CorsDomains,
			AllowedMethods:   []string{http.MethodGet, http.MethodHead, http.MethodPost},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
		}).Handler)
	}
	mux.Use(s.authorize)

	mux.Get("/api/server/info", s.serverInfo)
	mux.Get("/api/block/:level/:t/:setup/:coord/labels", s.blockLabels)
	mux.Get("/api/block/:level/:t/:setup/:coord", s.getBlock)
	mux.Post("/api/build/:level/:t/:setup", s.buildLevel)
	mux.Get("/api/mutation/:t/:setup", s.getMutations)
	mux.Post("/api/mutation/:t/:setup", s.postMutation)
	mux.Get("/api/node/:uuid/:name/key/:key", s.getKey)
	mux.Post("/api/node/:uuid/:name/key/:key", s.postKey)
	if s.pool != nil {
		mux.Handle("/_groupcache/*", s.pool)
	}
	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "no such endpoint")
	})
	return mux
}

func logRequests(c *web.C, h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h.ServeHTTP(w, r)
		dvid.Debugf("[%s] %s %s (%s)\n", middleware.GetReqID(*c), r.Method, r.URL, time.Since(start))
	}
	return http.HandlerFunc(fn)
}

type levelInfo struct {
	Level            int
	Factors          dvid.Point3d
	MinPoint         dvid.Point3d
	MaxPoint         dvid.Point3d
	ElementsPerVoxel int32
	Store            string `json:",omitempty"`
}

type serverInfo struct {
	ID        string
	Host      string
	Note      string
	Started   time.Time
	Uptime    string
	BlockSize dvid.Point3d
	Source    string
	Levels    []levelInfo
	Engines   string
}

func (s *Service) serverInfo(w http.ResponseWriter, r *http.Request) {
	info := serverInfo{
		ID:        s.id,
		Host:      s.config.Host(),
		Note:      s.config.Server.Note,
		Started:   s.started,
		Uptime:    strings.TrimSpace(humanize.RelTime(s.started, time.Now(), "", "")),
		BlockSize: s.loader.BlockSize(),
		Source:    fmt.Sprint(s.source),
		Engines:   storage.EnginesAvailable(),
	}
	for level := 0; level < s.loader.NumLevels(); level++ {
		li := levelInfo{Level: level, ElementsPerVoxel: s.loader.ElementsPerVoxel(level)}
		li.MinPoint, li.MaxPoint = s.loader.Extents(level)
		if level > 0 {
			li.Factors = s.loader.Factors(level)
			li.Store = s.loader.Store(level).String()
		}
		info.Levels = append(info.Levels, li)
	}
	writeJSON(w, r, info)
}

// blockRequest is the parsed location of a block request.
type blockRequest struct {
	level, t, setup int
	min, size       dvid.Point3d
}

func (s *Service) parseBlockRequest(c web.C, r *http.Request) (req blockRequest, err error) {
	if c.URLParams["level"] != "" {
		if req.level, err = strconv.Atoi(c.URLParams["level"]); err != nil {
			return req, fmt.Errorf("bad level %q", c.URLParams["level"])
		}
	}
	if req.t, err = strconv.Atoi(c.URLParams["t"]); err != nil {
		return req, fmt.Errorf("bad timepoint %q", c.URLParams["t"])
	}
	if req.setup, err = strconv.Atoi(c.URLParams["setup"]); err != nil {
		return req, fmt.Errorf("bad setup %q", c.URLParams["setup"])
	}
	if coord := c.URLParams["coord"]; coord != "" {
		if req.min, err = dvid.StringToPoint3d(coord, "_"); err != nil {
			return req, err
		}
	}
	req.size = s.loader.BlockSize()
	if sizeStr := r.URL.Query().Get("size"); sizeStr != "" {
		if req.size, err = dvid.StringToPoint3d(sizeStr, "_"); err != nil {
			return req, err
		}
	}
	return req, nil
}

func (s *Service) getBlock(c web.C, w http.ResponseWriter, r *http.Request) {
	req, err := s.parseBlockRequest(c, r)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	block, err := s.loader.LoadBlock(r.Context(), req.t, req.setup, req.level, req.size, req.min)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	data, err := block.MarshalBinary()
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := w.Write(data); err != nil {
		dvid.Errorf("Unable to write block to %s: %v\n", r.URL.Path, err)
	}
}

type labelCounts struct {
	Labels []uint64
	Counts map[uint64]int64
}

func (s *Service) blockLabels(c web.C, w http.ResponseWriter, r *http.Request) {
	req, err := s.parseBlockRequest(c, r)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	block, err := s.loader.LoadBlock(r.Context(), req.t, req.setup, req.level, req.size, req.min)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	writeJSON(w, r, labelCounts{
		Labels: block.Labels().ToArray(),
		Counts: block.Counts(),
	})
}

func (s *Service) buildLevel(c web.C, w http.ResponseWriter, r *http.Request) {
	req, err := s.parseBlockRequest(c, r)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	stats, err := s.loader.BuildLevel(r.Context(), req.t, req.setup, req.level)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	dvid.Infof("Built %s\n", stats)
	writeJSON(w, r, stats)
}

type mutationBox struct {
	Min  dvid.Point3d `json:"min"`
	Size dvid.Point3d `json:"size"`
}

type mutationRequest struct {
	MutID uint64        `json:"mutid"`
	Boxes []mutationBox `json:"boxes"`
}

func (s *Service) postMutation(c web.C, w http.ResponseWriter, r *http.Request) {
	req, err := s.parseBlockRequest(c, r)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	var mr mutationRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, MaxPostSize)).Decode(&mr); err != nil {
		BadRequest(w, r, "bad mutation JSON: %v", err)
		return
	}
	m := s.loader.NewMutation(req.t, req.setup, mr.MutID)
	for _, box := range mr.Boxes {
		if err := m.BoxMutated(box.Min, box.Size); err != nil {
			BadRequest(w, r, "%v", err)
			return
		}
	}
	start := time.Now()
	m.Done(r.Context())
	if err := m.Wait(); err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	rec := mutationRecord{
		MutID:   mr.MutID,
		Boxes:   mr.Boxes,
		Time:    start,
		Elapsed: time.Since(start).Seconds(),
	}
	if user, ok := c.Env["user"].(string); ok {
		rec.User = user
	}
	if err := s.logMutation(req.t, req.setup, rec); err != nil {
		writeError(w, r, http.StatusInternalServerError, "mutation %d processed but not logged: %v", mr.MutID, err)
		return
	}
	writeJSON(w, r, map[string]interface{}{"mutid": mr.MutID, "boxes": len(mr.Boxes)})
}

func (s *Service) getMutations(c web.C, w http.ResponseWriter, r *http.Request) {
	req, err := s.parseBlockRequest(c, r)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	records, err := s.mutationRecords(req.t, req.setup)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	writeJSON(w, r, records)
}

func (s *Service) keyStore(c web.C, w http.ResponseWriter, r *http.Request) (storage.Store, bool) {
	name := c.URLParams["name"]
	store, found := s.keyvalue[name]
	if !found {
		writeError(w, r, http.StatusNotFound, "no keyvalue instance %q", name)
		return nil, false
	}
	return store, true
}

func (s *Service) getKey(c web.C, w http.ResponseWriter, r *http.Request) {
	store, ok := s.keyStore(c, w, r)
	if !ok {
		return
	}
	data, err := store.Get(r.Context(), c.URLParams["key"])
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "key %q not found", c.URLParams["key"])
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "%v", err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := w.Write(data); err != nil {
		dvid.Errorf("Unable to write value to %s: %v\n", r.URL.Path, err)
	}
}

func (s *Service) postKey(c web.C, w http.ResponseWriter, r *http.Request) {
	store, ok := s.keyStore(c, w, r)
	if !ok {
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, MaxPostSize))
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	if err := store.Put(r.Context(), c.URLParams["key"], data); err != nil {
		writeError(w, r, http.StatusInternalServerError, "%v", err)
		return
	}
	if user, found := c.Env["user"]; found {
		dvid.Infof("User %v stored %s for key %q in %q\n", user, humanize.Bytes(uint64(len(data))), c.URLParams["key"], c.URLParams["name"])
	}
}
