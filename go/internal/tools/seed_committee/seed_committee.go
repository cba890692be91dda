package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/caucus/go/internal/dbconfig"
	"github.com/mcdev12/caucus/go/internal/models"
	"github.com/mcdev12/caucus/go/internal/store"
)

// seedCommittee mirrors the JSON fixture.
type seedCommittee struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Topic    string       `json:"topic"`
	Chairs   []string     `json:"chairs"`
	Caucuses []seedCaucus `json:"caucuses"`
}

type seedCaucus struct {
	Name           string                `json:"name"`
	Topic          string                `json:"topic"`
	SpeakerSeconds int                   `json:"speaker_seconds"`
	Speakers       []models.SpeakerEvent `json:"speakers"`
}

func main() {
	path := "go/internal/assets/committee.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	// 1) Load the JSON fixture
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var committees []seedCommittee
	if err := json.Unmarshal(data, &committees); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	ctx := context.Background()
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, store.Schema); err != nil {
		fmt.Fprintf(os.Stderr, "create schema: %v\n", err)
		os.Exit(1)
	}

	// 3) Insert and count
	clock := clockwork.NewRealClock()
	keys := store.NewKeyGenerator(clock)
	notifyChannel := store.DefaultPostgresConfig().NotifyChannel
	var inserted, skipped, errs int

	for _, sc := range committees {
		doc, err := json.Marshal(buildCommittee(sc, keys, clock))
		if err != nil {
			fmt.Fprintf(os.Stderr, "marshal committee %s: %v\n", sc.ID, err)
			errs++
			continue
		}
		key := store.Join("committees", sc.ID)
		tag, err := pool.Exec(ctx, `
            INSERT INTO documents (key, value, version)
            VALUES ($1, $2, 1)
            ON CONFLICT (key) DO NOTHING
        `, key, doc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting committee %s: %v\n", sc.ID, err)
			errs++
			continue
		}
		if tag.RowsAffected() == 0 {
			skipped++
			continue
		}
		inserted++
		if _, err := pool.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, key); err != nil {
			fmt.Fprintf(os.Stderr, "notify %s: %v\n", key, err)
		}
	}

	// 4) Summary
	fmt.Printf("Committees in JSON:   %d\n", len(committees))
	fmt.Printf("Inserted:             %d\n", inserted)
	fmt.Printf("Skipped (existing):   %d\n", skipped)
	fmt.Printf("Errors:               %d\n", errs)
}

func buildCommittee(sc seedCommittee, keys *store.KeyGenerator, clock clockwork.Clock) models.Committee {
	c := models.Committee{
		Name:      sc.Name,
		Topic:     sc.Topic,
		Chairs:    make(map[string]bool),
		Caucuses:  make(map[string]models.Caucus),
		Timer:     models.NewTimerState(models.DefaultCaucusSeconds),
		CreatedAt: clock.Now().UTC(),
	}
	for _, chair := range sc.Chairs {
		c.Chairs[chair] = true
	}
	for _, s := range sc.Caucuses {
		k := models.NewCaucus(s.Name, s.Topic)
		if s.SpeakerSeconds > 0 {
			k.SpeakerDuration = s.SpeakerSeconds
			k.SpeakerTimer = models.NewTimerState(s.SpeakerSeconds)
		}
		k.Queue = make(map[string]models.SpeakerEvent)
		for _, sp := range s.Speakers {
			if sp.Duration <= 0 {
				sp.Duration = k.SpeakerSeconds()
			}
			k.Queue[keys.Next()] = sp
		}
		c.Caucuses[uuid.New().String()] = k
	}
	return c
}
