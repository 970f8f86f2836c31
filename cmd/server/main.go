package main

import (
	"os"

	"attune/backend/internal/app"
)

// @title        Attune API
// @version      1.0
// @description  Relationship-counseling chat backend.
// @BasePath     /api
func main() {
	os.Exit(app.Run())
}
