package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"nfsidmap"
)

// Resolver is the part of the mapper the daemon serves.
type Resolver interface {
	NameToUID(name string) (uint32, error)
	NameToIDs(name string) (uint32, uint32, error)
	UIDToName(uid uint32, maxLen int) (string, error)
	PrincipalToIDs(principal string) (uint32, uint32, error)
	GroupToGID(name string) (uint32, error)
	GIDToGroup(gid uint32, maxLen int) (string, error)
	Queries() *nfsidmap.QueryLog
}

var errUnknownOp = errors.New("unknown lookup operation")

// identity is the JSON shape of every lookup result.
type identity struct {
	Name      string  `json:"name,omitempty"`
	Group     string  `json:"group,omitempty"`
	Principal string  `json:"principal,omitempty"`
	UID       *uint32 `json:"uid,omitempty"`
	GID       *uint32 `json:"gid,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func parseID(s string) (uint32, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: '%s' is not a numeric id", nfsidmap.ErrInvalidParameter, s)
	}

	return uint32(id), nil
}

func resolve(r Resolver, op, key string) (identity, error) {
	switch op {
	case "name-to-uid":
		uid, err := r.NameToUID(key)
		if err != nil {
			return identity{}, err
		}
		return identity{Name: key, UID: &uid}, nil

	case "name-to-ids":
		uid, gid, err := r.NameToIDs(key)
		if err != nil {
			return identity{}, err
		}
		return identity{Name: key, UID: &uid, GID: &gid}, nil

	case "uid-to-name":
		uid, err := parseID(key)
		if err != nil {
			return identity{}, err
		}
		name, err := r.UIDToName(uid, nfsidmap.ValueLen)
		if err != nil {
			return identity{}, err
		}
		return identity{Name: name, UID: &uid}, nil

	case "principal-to-ids":
		uid, gid, err := r.PrincipalToIDs(key)
		if err != nil {
			return identity{}, err
		}
		return identity{Principal: key, UID: &uid, GID: &gid}, nil

	case "group-to-gid":
		gid, err := r.GroupToGID(key)
		if err != nil {
			return identity{}, err
		}
		return identity{Group: key, GID: &gid}, nil

	case "gid-to-group":
		gid, err := parseID(key)
		if err != nil {
			return identity{}, err
		}
		group, err := r.GIDToGroup(gid, nfsidmap.ValueLen)
		if err != nil {
			return identity{}, err
		}
		return identity{Group: group, GID: &gid}, nil
	}

	return identity{}, fmt.Errorf("%w: %s", errUnknownOp, op)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, nfsidmap.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, nfsidmap.ErrInvalidParameter),
		errors.Is(err, nfsidmap.ErrBufferOverflow),
		errors.Is(err, errUnknownOp):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

type Server struct {
	srv http.Server

	addr     string
	log      *zap.Logger
	resolver Resolver
	gatherer prometheus.Gatherer
}

func NewServer(log *zap.Logger, addr string, resolver Resolver, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.NewRegistry()
	}

	s := &Server{
		addr:     addr,
		log:      log.Named("http"),
		resolver: resolver,
		gatherer: gatherer,
	}

	s.initHandlers()

	return s
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}

	go func() {
		err := s.srv.Serve(lis)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP serve", zap.Error(err))
		}
	}()

	s.log.Info("server started", zap.String("addr", lis.Addr().String()))
	<-ctx.Done()
	s.log.Info("shutdown...")

	ctxTimeout, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	return s.srv.Shutdown(ctxTimeout)
}

func (s *Server) lookup(op, param string) httprouter.Handle {
	return func(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
		key := ps.ByName(param)

		id, err := resolve(s.resolver, op, key)
		if err != nil {
			s.log.Debug("lookup failed", zap.String("op", op), zap.String("key", key), zap.Error(err))
			s.respond(w, statusFor(err), errorResponse{Error: err.Error()})
			return
		}

		s.respond(w, http.StatusOK, id)
	}
}

func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := writeJSON(w, v); err != nil {
		s.log.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) initHandlers() {
	router := httprouter.New()

	router.GET("/v1/users/name/:name", s.lookup("name-to-ids", "name"))
	router.GET("/v1/users/uid/:uid", s.lookup("uid-to-name", "uid"))
	router.GET("/v1/users/principal/:principal", s.lookup("principal-to-ids", "principal"))
	router.GET("/v1/groups/name/:name", s.lookup("group-to-gid", "name"))
	router.GET("/v1/groups/gid/:gid", s.lookup("gid-to-group", "gid"))

	router.GET("/v1/queries", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		limitParam := r.URL.Query().Get("limit")
		limit := -1
		if limitParam != "" {
			val, err := strconv.Atoi(limitParam)
			if err != nil || val < 0 {
				s.respond(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
				return
			}
			limit = val
		}

		records := s.resolver.Queries().List()
		if limit >= 0 && len(records) > limit {
			records = records[:limit]
		}
		if records == nil {
			records = []nfsidmap.QueryRecord{}
		}

		s.respond(w, http.StatusOK, records)
	})

	router.POST("/v1/queries/clear", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		s.log.Info("queries clear")
		s.resolver.Queries().Clear()
		w.WriteHeader(http.StatusOK)
	})

	router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.srv.Handler = router
}
