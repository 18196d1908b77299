package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"brewery-presence-backend/internal/model"
	"brewery-presence-backend/internal/visibility"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Store is what the workers read and prune.
type Store interface {
	GetCheckIn(ctx context.Context, id string) (*model.CheckIn, error)
	AcceptedFriends(ctx context.Context, userID string) ([]string, error)
	ListPushSubscriptions(ctx context.Context, userIDs []string) ([]model.PushSubscription, error)
	DeleteExpiredPushSubscription(ctx context.Context, endpoint string) error
}

// Payload is the JSON body delivered to the service worker.
type Payload struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	CheckInID string `json:"checkinId"`
	BreweryID string `json:"breweryId"`
	UserID    string `json:"userId"`
}

// WorkerPool manages a pool of workers that tell friends about new check-ins.
type WorkerPool struct {
	size    int
	jobs    chan string
	store   Store
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, st Store, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan string, size*16),
		store:   st,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Notification worker %d started", id)
	for {
		select {
		case checkInID := <-wp.jobs:
			wp.notifyFriends(ctx, checkInID)
		case <-ctx.Done():
			log.Printf("Notification worker %d shutting down", id)
			return
		}
	}
}

// Dispatch queues a check-in. It never blocks the caller; when the queue is
// full the job is dropped.
func (wp *WorkerPool) Dispatch(checkInID string) {
	select {
	case wp.jobs <- checkInID:
	default:
		log.Printf("Notification queue full, dropping check-in %s", checkInID)
	}
}

// notifyFriends pushes a check-in to every accepted friend allowed to see it.
func (wp *WorkerPool) notifyFriends(ctx context.Context, checkInID string) {
	c, err := wp.store.GetCheckIn(ctx, checkInID)
	if err != nil {
		log.Printf("Error fetching check-in %s: %v", checkInID, err)
		return
	}
	if c.Status != model.CheckInActive {
		return
	}

	friendIDs, err := wp.store.AcceptedFriends(ctx, c.UserID)
	if err != nil {
		log.Printf("Error fetching friends of %s: %v", c.UserID, err)
		return
	}
	var audience []string
	for _, f := range friendIDs {
		if visibility.CanView(f, c.UserID, c.Tier(), visibility.Accepted) {
			audience = append(audience, f)
		}
	}
	if len(audience) == 0 {
		return
	}

	subscriptions, err := wp.store.ListPushSubscriptions(ctx, audience)
	if err != nil {
		log.Printf("Error fetching subscriptions for check-in %s: %v", checkInID, err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	where := c.BreweryName
	if where == "" {
		where = c.BreweryID
	}
	payload, err := json.Marshal(Payload{
		Title:     "New check-in",
		Body:      fmt.Sprintf("%s checked in at %s", c.UserID, where),
		CheckInID: c.ID,
		BreweryID: c.BreweryID,
		UserID:    c.UserID,
	})
	if err != nil {
		log.Printf("Error encoding notification for check-in %s: %v", checkInID, err)
		return
	}

	log.Printf("Sending %d notifications for check-in %s", len(subscriptions), checkInID)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.store.DeleteExpiredPushSubscription(ctx, sub.Endpoint); err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
