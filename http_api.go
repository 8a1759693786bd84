package relaykit

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
)

// ServeStatus exposes the local RPC surface: component status snapshots and
// partial config updates.
func (kit *Kit) ServeStatus(addr string) error {
	return http.ListenAndServe(addr, kit.statusRouter())
}

func (kit *Kit) statusRouter() *httprouter.Router {
	router := httprouter.New()
	router.GET("/rpc/status", kit.handleStatus)
	router.POST("/rpc/component/:id", kit.handleSetConfig)
	router.POST("/rpc/component/:id/state", kit.handleSetState)

	return router
}

func writeJson(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (kit *Kit) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJson(w, http.StatusOK, struct {
		Name       string          `json:"name"`
		Components []ComponentInfo `json:"components"`
	}{kit.Name, kit.GetInfoAll()})
}

func (kit *Kit) findRequestComponent(w http.ResponseWriter, params httprouter.Params) Component {
	id, err := strconv.Atoi(params.ByName("id"))
	if err != nil {
		writeJson(w, http.StatusBadRequest, map[string]string{"error": "invalid component id"})
		return nil
	}

	comp := kit.FindComponent(id)
	if comp == nil {
		writeJson(w, http.StatusNotFound, map[string]string{"error": "component not found"})
	}

	return comp
}

func (kit *Kit) handleSetConfig(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	comp := kit.findRequestComponent(w, params)
	if comp == nil {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJson(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}

	restartRequired, err := comp.SetConfig(body)
	if err != nil {
		status := http.StatusInternalServerError
		invalidArg := &InvalidArgumentError{}
		if errors.As(err, &invalidArg) {
			status = http.StatusBadRequest
		}
		writeJson(w, status, map[string]string{"error": err.Error()})
		return
	}

	if kit.store != nil {
		err = kit.store.Save()
		if err != nil {
			kit.ensureLogger().Warn("failed to persist config", "err", err)
		}
	}

	writeJson(w, http.StatusOK, struct {
		RestartRequired bool `json:"restart_required"`
	}{restartRequired})
}

func (kit *Kit) handleSetState(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	comp := kit.findRequestComponent(w, params)
	if comp == nil {
		return
	}

	sc, isSwitch := comp.(*SwitchController)
	if !isSwitch {
		writeJson(w, http.StatusBadRequest, map[string]string{"error": "component has no settable state"})
		return
	}

	req := struct {
		State *bool `json:"state"`
	}{}
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil || req.State == nil {
		writeJson(w, http.StatusBadRequest, map[string]string{"error": "state field required"})
		return
	}

	sc.SetState(*req.State, "rpc")
	writeJson(w, http.StatusOK, sc.GetInfo())
}
