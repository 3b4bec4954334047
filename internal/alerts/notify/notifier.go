package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	alertsapp "sensorgrid-cloud/internal/alerts/application"
	alerts "sensorgrid-cloud/internal/alerts/domain"
)

// AlertReader loads alert records for escalation checks.
type AlertReader interface {
	GetByID(ctx context.Context, id string) (*alerts.Alert, error)
}

// Clock provides time for scheduling.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier sends alert notifications via a channel. Critical alerts that stay
// unacknowledged past the escalation delay are re-sent once.
type Notifier struct {
	alerts         AlertReader
	channel        Channel
	template       *Template
	escalation     time.Duration
	clock          Clock
	mu             sync.Mutex
	timers         map[string]*time.Timer
	sent           map[string]sendRecord
	cooldown       time.Duration
	dedupeWindow   time.Duration
	requestTimeout time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithEscalation configures escalation delay.
func WithEscalation(after time.Duration) Option {
	return func(n *Notifier) {
		if after > 0 {
			n.escalation = after
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithRequestTimeout overrides the default timeout for escalation checks.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same alert and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// NewNotifier constructs an alert notifier.
func NewNotifier(alertReader AlertReader, channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if alertReader == nil {
		return nil, errors.New("alert notifier: nil alert reader")
	}
	if channel == nil {
		return nil, errors.New("alert notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		alerts:         alertReader,
		channel:        channel,
		template:       template,
		clock:          systemClock{},
		timers:         make(map[string]*time.Timer),
		sent:           make(map[string]sendRecord),
		requestTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements AlertNotifier.
func (n *Notifier) Notify(ctx context.Context, event alertsapp.AlertEvent) {
	if n == nil || n.channel == nil {
		return
	}
	n.dispatch(ctx, event.Type, event.Alert)

	switch event.Type {
	case alertsapp.EventCreated:
		n.scheduleEscalation(event.Alert)
	case alertsapp.EventAcknowledged, alertsapp.EventResolved:
		n.cancelEscalation(event.Alert.ID)
	}
}

// Close stops all pending escalation timers.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.mu.Lock()
	timers := n.timers
	n.timers = make(map[string]*time.Timer)
	n.mu.Unlock()
	for _, timer := range timers {
		if timer != nil {
			timer.Stop()
		}
	}
}

func (n *Notifier) dispatch(ctx context.Context, eventType string, alert alerts.Alert) {
	content, err := n.template.Render(buildTemplateData(eventType, alert))
	if err != nil {
		return
	}
	if !n.shouldSend(alert.ID, eventType, content) {
		return
	}
	if err := n.channel.Send(ctx, content); err != nil {
		return
	}
	n.markSent(alert.ID, eventType, content)
}

func (n *Notifier) scheduleEscalation(alert alerts.Alert) {
	if n == nil || n.escalation <= 0 || alert.ID == "" {
		return
	}
	if alert.Type != alerts.TypeCritical {
		return
	}
	n.mu.Lock()
	if existing, ok := n.timers[alert.ID]; ok && existing != nil {
		existing.Stop()
	}
	timer := time.AfterFunc(n.escalation, func() {
		n.runEscalation(alert.ID)
	})
	n.timers[alert.ID] = timer
	n.mu.Unlock()
}

func (n *Notifier) cancelEscalation(alertID string) {
	if n == nil || alertID == "" {
		return
	}
	n.mu.Lock()
	timer := n.timers[alertID]
	delete(n.timers, alertID)
	n.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (n *Notifier) runEscalation(alertID string) {
	if n == nil || alertID == "" {
		return
	}
	n.mu.Lock()
	delete(n.timers, alertID)
	n.mu.Unlock()

	ctx := context.Background()
	if n.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.requestTimeout)
		defer cancel()
	}

	alert, err := n.alerts.GetByID(ctx, alertID)
	if err != nil || alert == nil {
		return
	}
	if alert.Status != alerts.StatusActive {
		return
	}
	n.dispatch(ctx, "escalated", *alert)
}

func buildTemplateData(eventType string, alert alerts.Alert) TemplateData {
	sensorName := alert.SensorName
	if sensorName == "" {
		sensorName = alert.SensorID
	}
	raisedAt := alert.CreatedAt
	return TemplateData{
		Sensor:     sensorName,
		SensorID:   alert.SensorID,
		Type:       alert.Type,
		Message:    alert.Message,
		RaisedAt:   raisedAt.UTC().Format(time.RFC3339),
		Status:     alert.Status,
		Event:      eventType,
		EventLabel: eventLabel(eventType),
	}
}

func eventLabel(event string) string {
	switch event {
	case alertsapp.EventCreated:
		return "Raised"
	case alertsapp.EventAcknowledged:
		return "Acknowledged"
	case alertsapp.EventResolved:
		return "Resolved"
	case "escalated":
		return "Escalated"
	default:
		return event
	}
}

func (n *Notifier) shouldSend(alertID, eventType, content string) bool {
	if n == nil {
		return false
	}
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	key := notificationKey(alertID, eventType)
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(alertID, eventType, content string) {
	if n == nil {
		return
	}
	key := notificationKey(alertID, eventType)
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func notificationKey(alertID, eventType string) string {
	return alertID + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
