package vpn

import (
	"github.com/sirupsen/logrus"

	"github.com/netgrove/vpnd/internal/routing"
	"github.com/netgrove/vpnd/internal/utils"
)

// redirectWatcher tracks, per redirect route target, the classifiers learned
// from FlowSpec advertisements. The external client is called exactly once
// when a target's classifier set becomes non-empty and exactly once when it
// empties again.
type redirectWatcher struct {
	log         logrus.FieldLogger
	client      redirectClient
	classifiers *utils.MapSet[string, routing.Classifier]
}

func newRedirectWatcher(log logrus.FieldLogger, client redirectClient) *redirectWatcher {
	return &redirectWatcher{
		log:         log,
		client:      client,
		classifiers: utils.NewMapSet[string, routing.Classifier](),
	}
}

func (r *redirectWatcher) advertise(rt string, c routing.Classifier) {
	if r.classifiers.ContainsVal(rt, c) {
		return
	}
	_, active := r.classifiers.Load(rt)
	r.classifiers.Store(rt, c)
	if !active {
		if err := r.client.StartRedirect(rt); err != nil {
			r.log.WithError(err).WithField("rt", rt).Error("start redirect failed")
		}
	}
}

func (r *redirectWatcher) withdraw(rt string, c routing.Classifier) {
	if !r.classifiers.ContainsVal(rt, c) {
		return
	}
	if r.classifiers.DeleteVal(rt, c) {
		if err := r.client.StopRedirect(rt); err != nil {
			r.log.WithError(err).WithField("rt", rt).Error("stop redirect failed")
		}
	}
}

// activeTargets lists redirect targets with at least one classifier.
func (r *redirectWatcher) activeTargets() []string {
	return r.classifiers.Keys()
}
