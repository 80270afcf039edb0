package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/oabridge/depositd/pkg/log"
	"github.com/oabridge/depositd/pkg/metrics"
	"github.com/oabridge/depositd/pkg/model"
	"github.com/oabridge/depositd/pkg/sotclient"
)

// SubmissionTypeURI identifies Submission resources in event resource-type
// lists.
const SubmissionTypeURI = "http://oapass.org/ns/pass#Submission"

// EventType is the lifecycle verb carried by an event.
type EventType string

const (
	EventCreated  EventType = "created"
	EventModified EventType = "modified"
)

// Event is one repository event as carried on the queue.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	// ResourceTypes holds the type URIs of the touched resource.
	ResourceTypes []string `json:"resourceTypes"`
	// Agent names the actor that raised the event.
	Agent string `json:"agent"`
	// Resource is the id of the touched resource.
	Resource string `json:"resource"`
}

// ParseEvent decodes an event body. A comma-delimited resource-type string
// is tolerated alongside the JSON array form.
func ParseEvent(body []byte) (*Event, error) {
	var raw struct {
		Event
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	ev := raw.Event
	if len(ev.ResourceTypes) == 0 && raw.ResourceType != "" {
		for _, t := range strings.Split(raw.ResourceType, ",") {
			if t = strings.TrimSpace(t); t != "" {
				ev.ResourceTypes = append(ev.ResourceTypes, t)
			}
		}
	}
	return &ev, nil
}

// Filter decides whether an event deserves processing.
type Filter struct {
	store     sotclient.Store
	agentName string
}

// NewFilter creates the filter. agentName is this process's own agent
// identity; events it raised itself are ignored.
func NewFilter(store sotclient.Store, agentName string) *Filter {
	return &Filter{store: store, agentName: agentName}
}

// Accept reports whether the event should be processed, returning the
// submission id to process. Rejections carry no error: drop is the normal
// outcome for most traffic.
func (f *Filter) Accept(ctx context.Context, ev *Event) (string, bool) {
	logger := log.WithComponent("event-filter")

	if ev.Type != EventCreated && ev.Type != EventModified {
		f.reject("event-type")
		return "", false
	}
	if !hasType(ev.ResourceTypes, SubmissionTypeURI) {
		f.reject("resource-type")
		return "", false
	}
	if ev.Agent != "" && strings.EqualFold(ev.Agent, f.agentName) {
		f.reject("self-agent")
		return "", false
	}
	if ev.Resource == "" {
		f.reject("no-resource")
		return "", false
	}

	sub, err := f.store.GetSubmission(ctx, ev.Resource)
	if err != nil {
		logger.Warn().Str("event_id", ev.ID).Str("submission_id", ev.Resource).
			Err(err).Msg("failed to resolve event submission, dropping")
		f.reject("unresolvable")
		return "", false
	}
	if !sub.Submitted || sub.Source != model.SourceUser {
		f.reject("not-user-submitted")
		return "", false
	}

	metrics.EventsTotal.WithLabelValues("accepted").Inc()
	return sub.ID, true
}

func (f *Filter) reject(reason string) {
	metrics.EventsTotal.WithLabelValues("rejected-" + reason).Inc()
}

func hasType(types []string, want string) bool {
	for _, t := range types {
		if strings.EqualFold(t, want) {
			return true
		}
	}
	return false
}
