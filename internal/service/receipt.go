package service

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"parking_reservation/internal/domain"

	"github.com/phpdave11/gofpdf"
	"github.com/skip2/go-qrcode"
)

// ReceiptService renders the PDF handed out when a reservation is closed.
// The QR code carries a signed payload so an attendant can check the
// receipt offline.
type ReceiptService struct {
	signingKey []byte
}

func NewReceiptService(signingKey string) *ReceiptService {
	return &ReceiptService{signingKey: []byte(signingKey)}
}

// Payload returns reservationID|spotID|cost|exitUnix|signature.
func (s *ReceiptService) Payload(res *domain.Reservation) string {
	data := fmt.Sprintf("%d|%d|%.2f|%d", res.ID, res.SpotID, res.Cost.Float64, res.ExitTime.Time.Unix())
	return data + "|" + s.sign(data)
}

// Verify checks a payload produced by Payload.
func (s *ReceiptService) Verify(payload string) bool {
	i := strings.LastIndex(payload, "|")
	if i < 0 {
		return false
	}
	return hmac.Equal([]byte(payload[i+1:]), []byte(s.sign(payload[:i])))
}

func (s *ReceiptService) sign(data string) string {
	h := hmac.New(sha256.New, s.signingKey)
	h.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// Render builds the receipt PDF. Only closed reservations have one.
func (s *ReceiptService) Render(res *domain.Reservation, lot *domain.ParkingLot, user *domain.User) ([]byte, error) {
	if res.IsOpen() {
		return nil, fmt.Errorf("%w: reservation %d is still open", domain.ErrInvalidInput, res.ID)
	}

	qrPNG, err := qrcode.Encode(s.Payload(res), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("generating QR code: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A5", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(0, 10, "Parking Receipt")
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 11)
	lines := []string{
		fmt.Sprintf("Receipt #: %d", res.ID),
		fmt.Sprintf("Lot: %s", lot.Name),
		fmt.Sprintf("Address: %s, %s", lot.Address, lot.PostalCode),
		fmt.Sprintf("Spot: %d", res.SpotID),
		fmt.Sprintf("Vehicle: %s", res.VehicleNumber),
		fmt.Sprintf("Customer: %s", user.Name),
		fmt.Sprintf("Entry: %s UTC", res.EntryTime.UTC().Format("2006-01-02 15:04")),
		fmt.Sprintf("Exit: %s UTC", res.ExitTime.Time.UTC().Format("2006-01-02 15:04")),
		fmt.Sprintf("Duration: %s", (&domain.CloseResult{Duration: res.ExitTime.Time.Sub(res.EntryTime)}).DurationLabel()),
		fmt.Sprintf("Rate: %.2f / hour", lot.HourlyRate),
		fmt.Sprintf("Amount: %.2f", res.Cost.Float64),
	}
	if res.Paid() {
		lines = append(lines, fmt.Sprintf("Paid by %s at %s UTC", res.PaymentMethod.String, res.PaidAt.Time.UTC().Format("2006-01-02 15:04")))
	} else {
		lines = append(lines, "Payment: due")
	}
	if res.ForceReleased {
		lines = append(lines, "Closed by an administrator")
	}
	for _, l := range lines {
		pdf.Cell(0, 8, l)
		pdf.Ln(7)
	}

	imageOpts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("qr", imageOpts, bytes.NewReader(qrPNG))
	pdf.ImageOptions("qr", 95, 20, 40, 40, false, imageOpts, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("rendering PDF: %w", err)
	}
	return buf.Bytes(), nil
}
