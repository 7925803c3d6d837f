package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dosetrack/go-mat/internal/domain/adherence"
	"github.com/dosetrack/go-mat/internal/domain/medicine"
	"github.com/dosetrack/go-mat/internal/domain/schedule"
	"github.com/dosetrack/go-mat/internal/infrastructure/memory"
)

func TestMonthlyReportEndpoint(t *testing.T) {
	meds := memory.NewMedicineStore()
	repo := memory.NewScheduleRepo(meds)

	user := uuid.New()
	med := &medicine.Medicine{ID: uuid.New(), OwnerUserID: &user, Name: "Lisinopril 10mg", QuantityOnHand: 50}
	meds.Put(med)

	svc := schedule.NewService(repo, meds, schedule.Config{
		Clock: func() time.Time {
			return time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC)
		},
	}, nil)

	ctx := context.Background()
	sched, err := svc.Create(ctx, schedule.CreateParams{
		UserID:            user,
		MedicineID:        med.ID,
		AllocatedQuantity: 7,
		StartDate:         time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		EndDate:           time.Date(2026, time.March, 7, 0, 0, 0, 0, time.UTC),
		TimesOfDay:        []string{"08:00 AM"},
	})
	if err != nil {
		t.Fatal(err)
	}
	for d := 1; d <= 3; d++ {
		date := time.Date(2026, time.March, d, 0, 0, 0, 0, time.UTC)
		if _, err := svc.UpdateDoseStatus(ctx, sched.ID, date, "08:00 AM", schedule.DoseTaken); err != nil {
			t.Fatal(err)
		}
	}

	h := NewReportHandler(adherence.NewReporter(repo, zap.NewNop()), zap.NewNop())
	server := httptest.NewServer(h.Routes())
	defer server.Close()

	resp, err := http.Get(server.URL + "/adherence/monthly?user_id=" + user.String() + "&year=2026&month=3")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var report adherence.Report
	decodeBody(t, resp, &report)

	if report.Month != "March" || report.Year != 2026 {
		t.Errorf("header = %s %d", report.Month, report.Year)
	}
	if report.Overview.TotalTaken != 3 || report.Overview.TotalDoses != 7 {
		t.Errorf("overview = %+v, want 3/7", report.Overview)
	}
	if report.Weeks[0].AdherencePercent != 43 { // 3/7
		t.Errorf("week 1 percent = %d, want 43", report.Weeks[0].AdherencePercent)
	}

	resp, err = http.Get(server.URL + "/adherence/monthly?user_id=" + user.String() + "&month=13")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("month 13: status = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/adherence/monthly")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing user: status = %d, want 400", resp.StatusCode)
	}
}
