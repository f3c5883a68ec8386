package v1

import (
	"net/http"

	"ampd/internal/profile"
)

// HandleListModules reports the provider and tool factories a mount
// plan can reference on this daemon.
func (r *Router) HandleListModules(w http.ResponseWriter, req *http.Request) {
	resp := ModulesResponse{Providers: []string{}, BuiltinTools: []string{}}
	if r.loader != nil {
		resp.Providers = r.loader.ProviderTypes()
		resp.BuiltinTools = r.loader.BuiltinTools()
	}
	SendJSON(w, http.StatusOK, resp)
}

// HandleListProfiles lists the discovered session profiles.
func (r *Router) HandleListProfiles(w http.ResponseWriter, req *http.Request) {
	if r.profiles == nil {
		SendJSON(w, http.StatusOK, []*profile.Profile{})
		return
	}
	profiles, err := r.profiles.List()
	if err != nil {
		WriteError(w, err)
		return
	}
	SendJSON(w, http.StatusOK, profiles)
}
