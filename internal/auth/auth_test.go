package auth

import (
	"errors"
	"testing"
	"time"
)

func TestCan(t *testing.T) {
	tests := []struct {
		role Role
		op   Operation
		want bool
	}{
		{RoleFinance, WriteCostItems, true},
		{RoleFinance, ReviewInvoices, true},
		{RoleFinance, ApplyTemplates, false},
		{RoleExecutiveProducer, ApplyTemplates, true},
		{RoleCEO, DispatchRequests, true},
		{RoleAdmin, ExportCostItems, true},
		{RoleCoordinator, ReadCostItems, true},
		{RoleCoordinator, WriteCostItems, false},
		{RoleCoordinator, ReviewInvoices, false},
		{RoleIngestion, IngestInvoices, true},
		{RoleIngestion, ReadCostItems, false},
		{RoleAdmin, IngestInvoices, false},
		{RoleFinance, RecordPayments, true},
		{RoleFinance, UndoAnyPayment, false},
		{RoleCEO, UndoAnyPayment, true},
		{RoleExecutiveProducer, RecordPayments, false},
		{RoleCoordinator, RecordPayments, false},
		{Role("intern"), ReadCostItems, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.op), func(t *testing.T) {
			p := Principal{TenantID: "t1", UserID: "u1", Role: tt.role}
			if got := p.Can(tt.op); got != tt.want {
				t.Errorf("Can(%s) = %v, want %v", tt.op, got, tt.want)
			}
		})
	}
}

func TestJWTRoundTrip(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)
	want := Principal{TenantID: "tenant-a", UserID: "user-1", Role: RoleFinance}

	token, err := m.Generate(want)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	got, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if got != want {
		t.Errorf("Validate() = %+v, want %+v", got, want)
	}
}

func TestJWTValidate_Rejects(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)

	other, err := NewJWTManager("other-secret", time.Hour).Generate(Principal{TenantID: "t", UserID: "u", Role: RoleAdmin})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	expired, err := NewJWTManager("test-secret", -time.Minute).Generate(Principal{TenantID: "t", UserID: "u", Role: RoleAdmin})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	noTenant, err := m.Generate(Principal{UserID: "u", Role: RoleAdmin})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	badRole, err := m.Generate(Principal{TenantID: "t", UserID: "u", Role: "intern"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	for name, token := range map[string]string{
		"wrong secret": other,
		"expired":      expired,
		"no tenant":    noTenant,
		"unknown role": badRole,
		"garbage":      "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := m.Validate(token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Validate() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}
