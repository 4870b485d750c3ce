package nodecontrol

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/canopy-network/collatorx/pkg/collator"
	"github.com/canopy-network/collatorx/pkg/secret"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type Controller struct {
	NetworkName string
	Codec       secret.Codec
	Challenges  *ChallengeStore
	Switcher    RoleSwitcher
	JobTimeout  time.Duration
	Logger      *zap.Logger
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", c.HandleHealth).Methods(http.MethodGet)

	r.HandleFunc(collator.ChallengePath, c.forNetwork(c.HandleChallenge)).Methods(http.MethodGet)
	r.HandleFunc(collator.IsValidatorPath, c.forNetwork(c.HandleIsValidator)).Methods(http.MethodGet)
	r.HandleFunc(collator.FailoverPath, c.forNetwork(c.HandleFailover)).Methods(http.MethodPost)

	return r
}

// forNetwork answers requests addressed to another network with an empty 200,
// so one host can run a service per network.
func (c *Controller) forNetwork(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("networkName") != c.NetworkName {
			return
		}
		next(w, r)
	}
}

func (c *Controller) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// HandleChallenge issues a one-time challenge that the next command must carry.
func (c *Controller) HandleChallenge(w http.ResponseWriter, _ *http.Request) {
	challenge, err := c.Challenges.Issue(c.NetworkName)
	if err != nil {
		c.Logger.Error("Failed to issue challenge", zap.Error(err))
		http.Error(w, "", http.StatusInternalServerError)
		return
	}
	c.Logger.Debug("Challenge issued")
	writeJSON(w, collator.ChallengeResponse{Challenge: challenge})
}

// HandleIsValidator reports whether this node currently validates.
func (c *Controller) HandleIsValidator(w http.ResponseWriter, r *http.Request) {
	active, err := c.Switcher.IsValidator(r.Context())
	if err != nil {
		c.Logger.Error("Unable to determine validator mode", zap.Error(err))
		http.Error(w, "", http.StatusInternalServerError)
		return
	}
	writeJSON(w, collator.ResponseMessage{Status: "200", Info: strconv.FormatBool(active)})
}

// HandleFailover decrypts a role-change command, checks its challenge and
// switches the local role.
func (c *Controller) HandleFailover(w http.ResponseWriter, r *http.Request) {
	var req collator.FailoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.Logger.Warn("Failed to decode failover request", zap.Error(err))
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	var cmd collator.Command
	if err := c.Codec.Decrypt(req.Blob, &cmd); err != nil {
		c.Logger.Warn("Failed to decrypt failover command", zap.Error(err))
		http.Error(w, "", http.StatusBadRequest)
		return
	}
	if cmd.Validate == cmd.Backup {
		c.Logger.Warn("Failover command must request exactly one role", zap.Bool("validate", cmd.Validate), zap.Bool("backup", cmd.Backup))
		http.Error(w, "", http.StatusBadRequest)
		return
	}
	if cmd.NetworkName != c.NetworkName {
		c.Logger.Warn("Failover command for another network", zap.String("network", cmd.NetworkName))
		http.Error(w, "", http.StatusForbidden)
		return
	}
	if err := c.Challenges.Consume(c.NetworkName, cmd.Challenge); err != nil {
		c.Logger.Warn("False challenge", zap.Error(err))
		http.Error(w, "", http.StatusForbidden)
		return
	}

	// The caller may give up on the request; the unit job still has to finish.
	timeout := c.JobTimeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), timeout)
	defer cancel()

	if cmd.Validate {
		c.Logger.Info("Activating validator")
		if err := c.Switcher.MakeValidator(ctx); err != nil {
			c.Logger.Error("Failed to activate validator", zap.Error(err))
			http.Error(w, "", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, collator.ResponseMessage{Status: "200", Info: collator.InfoNowValidator})
		return
	}

	c.Logger.Info("Activating backup")
	if err := c.Switcher.MakeBackup(ctx); err != nil {
		c.Logger.Error("Failed to activate backup", zap.Error(err))
		http.Error(w, "", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, collator.ResponseMessage{Status: "200", Info: collator.InfoNowBackup})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
