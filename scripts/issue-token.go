package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/openclaw/wagate-server-go/internal/database"
	"github.com/openclaw/wagate-server-go/internal/model"
	"github.com/openclaw/wagate-server-go/internal/repository"
	"github.com/openclaw/wagate-server-go/internal/util"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: DATABASE_URL=... go run scripts/issue-token.go <owner-name> [free|starter|business] [webhook-url]\n")
		os.Exit(1)
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		fmt.Fprintf(os.Stderr, "Error: DATABASE_URL is required\n")
		os.Exit(1)
	}

	params := model.CreateOwnerParams{Name: os.Args[1], Plan: model.PlanFree}
	if len(os.Args) > 2 {
		params.Plan = model.Plan(os.Args[2])
		if !util.IsValidEnum(os.Args[2], []string{string(model.PlanFree), string(model.PlanStarter), string(model.PlanBusiness)}) {
			fmt.Fprintf(os.Stderr, "Error: unknown plan %q\n", os.Args[2])
			os.Exit(1)
		}
	}
	if len(os.Args) > 3 {
		webhookURL := os.Args[3]
		params.WebhookURL = &webhookURL
	}

	token, err := util.GenerateAPIToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	params.APITokenHash = util.HashToken(token)

	db, err := database.Connect(databaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	owner, err := repository.NewOwnerRepository(db.DB).Create(ctx, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("owner:  %s (%s)\n", owner.ID, owner.Plan)
	fmt.Printf("token:  %s\n", token)
	fmt.Printf("masked: %s\n", util.MaskToken(token))
}
