package analytics

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

const (
	// LibraryName is reported in the User-Agent header and in context.library.
	LibraryName = "analytics-go"
	// Version is the library version.
	Version = "0.1.0"
)

// ActionType is the discriminant of an Action.
type ActionType string

const (
	ActionIdentify ActionType = "identify"
	ActionTrack    ActionType = "track"
	ActionPage     ActionType = "page"
	ActionScreen   ActionType = "screen"
	ActionGroup    ActionType = "group"
	ActionAlias    ActionType = "alias"
)

// Context holds free-form information about the environment of a call,
// such as the visitor's ip or locale.
type Context map[string]any

// Traits describe a user or a group.
type Traits map[string]any

// Properties describe a track, page or screen call.
type Properties map[string]any

// Action is a single analytics event record.
//
// The set of implementations is closed: Identify, Track, Page, Screen,
// Group and Alias. Actions must not be mutated after they are enqueued.
type Action interface {
	json.Marshaler
	// Type returns the action discriminant.
	Type() ActionType
	// MessageID returns the unique id assigned at creation.
	MessageID() string
	// Validate checks the fields required by the action type.
	Validate() error

	base() *BaseAction
}

// BaseAction holds the fields shared by every action type.
type BaseAction struct {
	ID           string         `json:"messageId"`
	UserID       string         `json:"userId,omitempty"`
	AnonymousID  string         `json:"anonymousId,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Context      Context        `json:"context,omitempty"`
	Integrations map[string]any `json:"integrations,omitempty"`
}

// MessageID returns the action message id.
func (b *BaseAction) MessageID() string {
	return b.ID
}

func (b *BaseAction) base() *BaseAction {
	return b
}

func (b *BaseAction) validate() error {
	if b.UserID == "" && b.AnonymousID == "" {
		return ErrUserIDRequired
	}

	return nil
}

// Identify ties a user to their traits.
type Identify struct {
	BaseAction
	Traits Traits `json:"traits,omitempty"`
}

// Track records an event performed by a user.
type Track struct {
	BaseAction
	Event      string     `json:"event"`
	Properties Properties `json:"properties,omitempty"`
}

// Page records a web page view.
type Page struct {
	BaseAction
	Name       string     `json:"name,omitempty"`
	Category   string     `json:"category,omitempty"`
	Properties Properties `json:"properties,omitempty"`
}

// Screen records a mobile screen view.
type Screen struct {
	BaseAction
	Name       string     `json:"name,omitempty"`
	Category   string     `json:"category,omitempty"`
	Properties Properties `json:"properties,omitempty"`
}

// Group associates a user with a group.
type Group struct {
	BaseAction
	GroupID string `json:"groupId"`
	Traits  Traits `json:"traits,omitempty"`
}

// Alias merges two user identities.
type Alias struct {
	BaseAction
	PreviousID string `json:"previousId"`
}

// Type implements Action.
func (*Identify) Type() ActionType { return ActionIdentify }

// Type implements Action.
func (*Track) Type() ActionType { return ActionTrack }

// Type implements Action.
func (*Page) Type() ActionType { return ActionPage }

// Type implements Action.
func (*Screen) Type() ActionType { return ActionScreen }

// Type implements Action.
func (*Group) Type() ActionType { return ActionGroup }

// Type implements Action.
func (*Alias) Type() ActionType { return ActionAlias }

// Validate implements Action.
func (a *Identify) Validate() error { return a.validate() }

// Validate implements Action.
func (a *Track) Validate() error {
	if a.Event == "" {
		return ErrEventRequired
	}

	return a.validate()
}

// Validate implements Action.
func (a *Page) Validate() error { return a.validate() }

// Validate implements Action.
func (a *Screen) Validate() error { return a.validate() }

// Validate implements Action.
func (a *Group) Validate() error {
	if a.GroupID == "" {
		return ErrGroupIDRequired
	}

	return a.validate()
}

// Validate implements Action.
func (a *Alias) Validate() error {
	if a.PreviousID == "" {
		return ErrPreviousIDRequired
	}

	return a.validate()
}

// MarshalJSON implements json.Marshaler.
func (a *Identify) MarshalJSON() ([]byte, error) {
	type plain Identify

	return json.Marshal(struct {
		Type ActionType `json:"type"`
		*plain
	}{ActionIdentify, (*plain)(a)})
}

// MarshalJSON implements json.Marshaler.
func (a *Track) MarshalJSON() ([]byte, error) {
	type plain Track

	return json.Marshal(struct {
		Type ActionType `json:"type"`
		*plain
	}{ActionTrack, (*plain)(a)})
}

// MarshalJSON implements json.Marshaler.
func (a *Page) MarshalJSON() ([]byte, error) {
	type plain Page

	return json.Marshal(struct {
		Type ActionType `json:"type"`
		*plain
	}{ActionPage, (*plain)(a)})
}

// MarshalJSON implements json.Marshaler.
func (a *Screen) MarshalJSON() ([]byte, error) {
	type plain Screen

	return json.Marshal(struct {
		Type ActionType `json:"type"`
		*plain
	}{ActionScreen, (*plain)(a)})
}

// MarshalJSON implements json.Marshaler.
func (a *Group) MarshalJSON() ([]byte, error) {
	type plain Group

	return json.Marshal(struct {
		Type ActionType `json:"type"`
		*plain
	}{ActionGroup, (*plain)(a)})
}

// MarshalJSON implements json.Marshaler.
func (a *Alias) MarshalJSON() ([]byte, error) {
	type plain Alias

	return json.Marshal(struct {
		Type ActionType `json:"type"`
		*plain
	}{ActionAlias, (*plain)(a)})
}

// DecodeAction decodes a serialized action, dispatching on its type tag.
func DecodeAction(raw []byte) (Action, error) {
	var head struct {
		Type ActionType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("analytics: decode action: %w", err)
	}

	var action Action
	switch head.Type {
	case ActionIdentify:
		action = &Identify{}
	case ActionTrack:
		action = &Track{}
	case ActionPage:
		action = &Page{}
	case ActionScreen:
		action = &Screen{}
	case ActionGroup:
		action = &Group{}
	case ActionAlias:
		action = &Alias{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionType, head.Type)
	}
	if err := json.Unmarshal(raw, action); err != nil {
		return nil, fmt.Errorf("analytics: decode %s action: %w", head.Type, err)
	}

	return action, nil
}

// Options carries optional per-call fields.
type Options struct {
	AnonymousID  string
	Timestamp    time.Time
	Context      Context
	Integrations map[string]any
}

// NewOptions returns empty call options.
func NewOptions() *Options {
	return &Options{}
}

// SetAnonymousID sets the anonymous id of the call.
func (o *Options) SetAnonymousID(id string) *Options {
	o.AnonymousID = id

	return o
}

// SetTimestamp overrides the action timestamp.
func (o *Options) SetTimestamp(ts time.Time) *Options {
	o.Timestamp = ts

	return o
}

// SetContext sets the call context. The library entry is added on enqueue.
func (o *Options) SetContext(ctx Context) *Options {
	o.Context = ctx

	return o
}

// SetIntegration enables, disables or configures a destination integration.
func (o *Options) SetIntegration(name string, value any) *Options {
	if o.Integrations == nil {
		o.Integrations = make(map[string]any)
	}
	o.Integrations[name] = value

	return o
}

func newBase(userID string, opts *Options) BaseAction {
	b := BaseAction{UserID: userID}
	if opts == nil {
		return b
	}
	b.AnonymousID = opts.AnonymousID
	b.Timestamp = opts.Timestamp
	if opts.Context != nil {
		b.Context = maps.Clone(opts.Context)
	}
	if opts.Integrations != nil {
		b.Integrations = maps.Clone(opts.Integrations)
	}

	return b
}

func libraryContext() map[string]any {
	return map[string]any{"name": LibraryName, "version": Version}
}
