package models

import (
	"fmt"
	"math"
)

// Stages reported by the processing backend, in pipeline order
const (
	StageInitializing    = "initializing"
	StageImageProcessing = "image_processing"
	StageImageProcessed  = "image_processed"
	StageExtractingMenu  = "extracting_menu"
	StageMenuExtracted   = "menu_extracted"
	StageSavingItems     = "saving_items"
	StageItemsSaved      = "items_saved"
	StageSearchingImages = "searching_images"
	StageImagesFound     = "images_found"
	StageSavingImages    = "saving_images"
	StageFinalizing      = "finalizing"
	StageCompleted       = "completed"
)

var stageDescriptions = map[string]string{
	StageInitializing:    "Preparing your menu...",
	StageImageProcessing: "Optimizing image quality...",
	StageImageProcessed:  "Image ready!",
	StageExtractingMenu:  "Reading menu items...",
	StageMenuExtracted:   "Menu items identified!",
	StageSavingItems:     "Saving menu items...",
	StageItemsSaved:      "Menu items saved!",
	StageSearchingImages: "Finding delicious food photos...",
	StageImagesFound:     "Images collected!",
	StageSavingImages:    "Saving images...",
	StageFinalizing:      "Finishing up...",
	StageCompleted:       "All done!",
}

// StageDescription returns the display text for a stage, "Processing..." when unknown
func StageDescription(stage string) string {
	if d, ok := stageDescriptions[stage]; ok {
		return d
	}
	return "Processing..."
}

// FormatETA renders an advisory remaining time
func FormatETA(seconds float64) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%d seconds", int(math.Ceil(seconds)))
	case seconds < 120:
		return "About a minute"
	default:
		return fmt.Sprintf("About %d minutes", int(math.Ceil(seconds/60)))
	}
}
