package main

import (
	"fmt"
	"log"
	"os"

	"github.com/trafficai/internal/billing"
)

func main() {
	apiKey := os.Getenv("TRAFFICAI_BILLING_PROVIDER_KEY")
	if apiKey == "" {
		log.Fatal("TRAFFICAI_BILLING_PROVIDER_KEY is not set")
	}

	client := billing.NewHTTPProviderClient(os.Getenv("TRAFFICAI_BILLING_BASE_URL"), apiKey)

	fmt.Println("Creating billing plans...")

	monthlyPlan, err := client.CreatePlan("monthly")
	if err != nil {
		log.Fatalf("Failed to create monthly plan: %v", err)
	}
	fmt.Printf("✓ Created monthly plan: %s\n", monthlyPlan.ID)

	yearlyPlan, err := client.CreatePlan("yearly")
	if err != nil {
		log.Fatalf("Failed to create yearly plan: %v", err)
	}
	fmt.Printf("✓ Created yearly plan: %s\n", yearlyPlan.ID)

	fmt.Println("\nUpdate these in internal/billing/service.go:")
	fmt.Printf("  MonthlyPlanID = \"%s\"\n", monthlyPlan.ID)
	fmt.Printf("  YearlyPlanID  = \"%s\"\n", yearlyPlan.ID)
}
