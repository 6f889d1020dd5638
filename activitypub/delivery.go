package activitypub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/halvdan/waxwing/db"
	"github.com/halvdan/waxwing/domain"
	"github.com/halvdan/waxwing/util"
)

var deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fanout_deliveries_total",
	Help: "Fan-out delivery outcomes",
}, []string{"result"})

var pendingFanOutsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "fanout_pending",
	Help: "Fan-out rows due for delivery at the last pass",
})

// StartDeliveryWorker starts the background worker that drains the fan-out
// queue.
func StartDeliveryWorker(conf *util.AppConfig) {
	log.Println("Starting fan-out delivery worker...")

	ticker := time.NewTicker(time.Duration(conf.Conf.DeliverySeconds) * time.Second)
	go func() {
		for range ticker.C {
			processFanOutQueue(conf)
		}
	}()
}

// processFanOutQueue delivers due fan-outs, applying exponential backoff on
// failure and giving up after ten attempts.
func processFanOutQueue(conf *util.AppConfig) {
	database := db.GetDB()

	err, fanOuts := database.ReadPendingFanOuts(time.Now(), 50)
	if err != nil {
		log.Printf("DeliveryWorker: Failed to read queue: %v", err)
		return
	}
	pendingFanOutsGauge.Set(float64(len(*fanOuts)))
	if len(*fanOuts) == 0 {
		return
	}

	log.Printf("DeliveryWorker: Processing %d pending fan-outs", len(*fanOuts))

	for _, fanOut := range *fanOuts {
		if err := deliverFanOut(&fanOut, conf); err != nil {
			fanOut.Attempts++
			backoffMinutes := []int{1, 5, 15, 60, 240, 1440}[min(fanOut.Attempts-1, 5)]

			if fanOut.Attempts >= 10 {
				log.Printf("DeliveryWorker: Giving up on fan-out %s after %d attempts", fanOut.Id, fanOut.Attempts)
				database.DeleteFanOut(fanOut.Id)
				deliveriesTotal.WithLabelValues("dropped").Inc()
			} else {
				log.Printf("DeliveryWorker: Fan-out %s failed (attempt %d), retry in %dm: %v",
					fanOut.Id, fanOut.Attempts, backoffMinutes, err)
				database.UpdateFanOutAttempt(fanOut.Id, fanOut.Attempts, time.Now().Add(time.Duration(backoffMinutes)*time.Minute))
				deliveriesTotal.WithLabelValues("retry").Inc()
			}
		} else {
			database.DeleteFanOut(fanOut.Id)
			deliveriesTotal.WithLabelValues("success").Inc()
		}
	}
}

// deliverFanOut delivers one fan-out row. Local recipients take no network
// hop; their timelines read straight from the interaction rows.
func deliverFanOut(fanOut *domain.FanOut, conf *util.AppConfig) error {
	database := db.GetDB()

	err, recipient := database.ReadIdentityById(fanOut.IdentityId)
	if err != nil {
		return fmt.Errorf("failed to load recipient: %w", err)
	}
	if recipient.Local {
		return nil
	}

	err, interaction := database.ReadInteractionById(fanOut.SubjectInteractionId)
	if err != nil {
		return fmt.Errorf("failed to load interaction: %w", err)
	}
	err, actor := database.ReadIdentityById(interaction.IdentityId)
	if err != nil {
		return fmt.Errorf("failed to load actor: %w", err)
	}
	if !actor.Local {
		// Remote interactions never resolve remote targets; nothing to sign with
		return nil
	}
	err, playlist := database.ReadPlaylistById(fanOut.SubjectPlaylistId)
	if err != nil {
		return fmt.Errorf("failed to load playlist: %w", err)
	}
	err, author := database.ReadIdentityById(playlist.AuthorId)
	if err != nil {
		return fmt.Errorf("failed to load author: %w", err)
	}

	var document *Activity
	if fanOut.Type == domain.FanOutUndoInteraction {
		document, err = ToUndoAP(interaction, actor, playlist, author)
	} else {
		document, err = ToAP(interaction, actor, playlist, author)
	}
	if err != nil {
		return err
	}

	inboxURI := recipient.InboxURI
	if recipient.SharedInboxURI != "" {
		inboxURI = recipient.SharedInboxURI
	}
	return DeliverDocument(inboxURI, document, actor)
}

// DeliverDocument posts a signed activity document to an inbox.
func DeliverDocument(inboxURI string, document *Activity, signer *domain.Identity) error {
	payload, err := json.Marshal(document)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	privateKey, err := ParsePrivateKey(signer.PrivateKeyPem)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	req, err := http.NewRequest("POST", inboxURI, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.GetNameAndVersion()+" ActivityPub")
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	keyID := signer.ActorURI + "#main-key"
	if err := SignRequest(req, privateKey, keyID); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}

	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
