package gateway

import (
	"log/slog"
	"net/http"

	"github.com/syntrixbase/nodestream/pkg/model"
)

type itemsQuery struct {
	Node  string `schema:"node,required"`
	Limit int    `schema:"limit"`
}

type nodesQuery struct {
	Parent string `schema:"parent"`
}

type ItemsResponse struct {
	Node  string       `json:"node"`
	Items []model.Item `json:"items"`
}

type ItemIDsResponse struct {
	Node    string   `json:"node"`
	ItemIDs []string `json:"itemIds"`
}

type NodesResponse struct {
	Parent string                 `json:"parent"`
	Nodes  []model.NodeDescriptor `json:"nodes"`
}

type FeaturesResponse struct {
	Features []string `json:"features"`
}

func (g *Gateway) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := g.decoder.Decode(dst, r.URL.Query()); err != nil {
		slog.Warn("Invalid query parameters", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid query parameters")
		return false
	}
	return true
}

func (g *Gateway) handleItems(w http.ResponseWriter, r *http.Request) {
	var q itemsQuery
	if !g.decode(w, r, &q) {
		return
	}
	if q.Limit < 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "limit must not be negative")
		return
	}

	items, err := g.queries.QueryItems(r.Context(), q.Node, r.Header.Get(ActorHeader), q.Limit)
	if err != nil {
		writeEngineError(w, model.WrapError(err))
		return
	}
	writeJSON(w, http.StatusOK, ItemsResponse{Node: q.Node, Items: items})
}

func (g *Gateway) handleItemIDs(w http.ResponseWriter, r *http.Request) {
	var q itemsQuery
	if !g.decode(w, r, &q) {
		return
	}

	ids, err := g.queries.DiscoverItems(r.Context(), q.Node)
	if err != nil {
		writeEngineError(w, model.WrapError(err))
		return
	}
	writeJSON(w, http.StatusOK, ItemIDsResponse{Node: q.Node, ItemIDs: ids})
}

func (g *Gateway) handleNodes(w http.ResponseWriter, r *http.Request) {
	var q nodesQuery
	if !g.decode(w, r, &q) {
		return
	}
	nodes := g.queries.DiscoverChildren(q.Parent)
	if nodes == nil {
		nodes = []model.NodeDescriptor{}
	}
	writeJSON(w, http.StatusOK, NodesResponse{Parent: q.Parent, Nodes: nodes})
}

func (g *Gateway) handleFeatures(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, FeaturesResponse{Features: g.queries.DiscoverFeatures()})
}
