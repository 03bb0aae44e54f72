package domain

// PlateRecognitionDTO carries a photo of the vehicle so the booking form can
// be prefilled with its plate.
type PlateRecognitionDTO struct {
	ImageBase64 string `json:"image_base64" binding:"required"`
}

type PlateRecognitionResponseDTO struct {
	VehicleNumber string  `json:"vehicle_number"`
	Confidence    float32 `json:"confidence,omitempty"`
	Message       string  `json:"message,omitempty"`
}
