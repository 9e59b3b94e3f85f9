package gateway

import (
	"context"
	"net/http"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/profile"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/pump"
)

// Publisher sends a payload to a bus topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// StateReader returns the last acknowledged state of a pump.
type StateReader interface {
	Load(ctx context.Context, id int) (pump.State, error)
}

// ProfileController starts and stops scripted profiles.
type ProfileController interface {
	Profiles() []profile.Profile
	Active() (string, bool)
	Start(name string) error
	Stop(ctx context.Context) error
}

// HTTPHandler is implemented by anything that mounts routes on a mux.
type HTTPHandler interface {
	RegisterHTTPHandlers(prefix string, mux *http.ServeMux)
}

var (
	_ StateReader       = (pump.StateStore)(nil)
	_ ProfileController = (*profile.Runner)(nil)
)
