package composite

import (
	"context"
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
)

// --- Config.validate Tests ---

func TestConfigValidate_Defaults(t *testing.T) {
	cfg := Config{}
	cfg.validate()

	if cfg.MaxChainDepth != 8 {
		t.Errorf("expected MaxChainDepth 8 for zero, got %d", cfg.MaxChainDepth)
	}
}

func TestConfigValidate_Negative(t *testing.T) {
	cfg := Config{MaxChainDepth: -3}
	cfg.validate()

	if cfg.MaxChainDepth != 8 {
		t.Errorf("expected MaxChainDepth 8 for -3, got %d", cfg.MaxChainDepth)
	}
}

func TestConfigValidate_OverMax(t *testing.T) {
	cfg := Config{MaxChainDepth: 500}
	cfg.validate()

	if cfg.MaxChainDepth != 64 {
		t.Errorf("expected MaxChainDepth 64 for 500, got %d", cfg.MaxChainDepth)
	}
}

func TestConfigValidate_AtMax(t *testing.T) {
	cfg := Config{MaxChainDepth: 64}
	cfg.validate()

	if cfg.MaxChainDepth != 64 {
		t.Errorf("expected MaxChainDepth 64, got %d", cfg.MaxChainDepth)
	}
}

func TestConfigValidate_PreservesCustomDepth(t *testing.T) {
	cfg := Config{MaxChainDepth: 3}
	cfg.validate()

	if cfg.MaxChainDepth != 3 {
		t.Errorf("expected MaxChainDepth 3, got %d", cfg.MaxChainDepth)
	}
}

// --- readOnlyName Tests ---

// gauge has one getter-only accessor and one getter/setter pair.
type gauge struct {
	ID int64 `db:"id,key"`

	pressure int64
}

func (*gauge) TableName() string { return "gauges" }

func (g *gauge) Temperature() int64    { return 40 }
func (g *gauge) Pressure() int64       { return g.pressure }
func (g *gauge) SetPressure(v int64)   { g.pressure = v }
func (g *gauge) Recalibrate(bias bool) {}

func gaugeEntity(t *testing.T) *Entity {
	t.Helper()
	eng := &Engine{config: DefaultConfig(), registry: NewRegistry()}
	e, err := eng.newEntity(&gauge{}, 0)
	if err != nil {
		t.Fatalf("new entity: %v", err)
	}
	return e
}

func TestReadOnlyName_GetterOnly(t *testing.T) {
	e := gaugeEntity(t)
	if !e.readOnlyName("temperature") {
		t.Error("expected getter-only accessor to read as read-only")
	}
}

func TestReadOnlyName_GetterWithSetter(t *testing.T) {
	e := gaugeEntity(t)
	if e.readOnlyName("pressure") {
		t.Error("expected a settable accessor pair not to read as read-only")
	}
}

func TestReadOnlyName_NoMethod(t *testing.T) {
	e := gaugeEntity(t)
	if e.readOnlyName("serial_number") {
		t.Error("expected an unbacked name not to read as read-only")
	}
}

func TestReadOnlyName_NonGetterShape(t *testing.T) {
	e := gaugeEntity(t)
	// Recalibrate takes an argument, which disqualifies it as a getter.
	if e.readOnlyName("recalibrate") {
		t.Error("expected a non-getter method not to read as read-only")
	}
}

func TestReadOnlyName_Empty(t *testing.T) {
	e := gaugeEntity(t)
	if e.readOnlyName("") {
		t.Error("expected empty name not to read as read-only")
	}
}

// --- validationFields Tests ---

type tenant struct {
	ID    int64  `db:"id,key"`
	OrgID int64  `db:"org_id"`
	Name  string `db:"name"`
}

func (*tenant) TableName() string { return "tenants" }

func tenantEntity(t *testing.T) *Entity {
	t.Helper()
	eng := &Engine{config: DefaultConfig(), registry: NewRegistry()}
	e, err := eng.newEntity(&tenant{}, 0)
	if err != nil {
		t.Fatalf("new entity: %v", err)
	}
	e.link = &Link{ChildField: "org_id"}
	return e
}

func TestValidationFields_DefaultExcludesLinkingField(t *testing.T) {
	e := tenantEntity(t)
	names := e.validationFields(nil)
	if len(names) != 2 || names[0] != "id" || names[1] != "name" {
		t.Errorf("expected [id name], got %v", names)
	}
}

func TestValidationFields_ExplicitKeepsLinkingField(t *testing.T) {
	e := tenantEntity(t)
	names := e.validationFields([]string{"org_id", "name", "bogus"})
	if len(names) != 2 || names[0] != "org_id" || names[1] != "name" {
		t.Errorf("expected [org_id name], got %v", names)
	}
}

func TestValidationFields_NoLink(t *testing.T) {
	e := tenantEntity(t)
	e.link = nil
	names := e.validationFields(nil)
	if len(names) != 3 {
		t.Errorf("expected all declared names for an unlinked record, got %v", names)
	}
}

// --- guarded Tests ---

func TestGuarded(t *testing.T) {
	e := tenantEntity(t)

	if !e.guarded("id") {
		t.Error("expected the key field guarded")
	}
	if !e.guarded("org_id") {
		t.Error("expected the linking field guarded")
	}
	if e.guarded("name") {
		t.Error("expected a plain field unguarded")
	}
	if e.linkedField("id") {
		t.Error("the key is not the linking field here")
	}
	if !e.linkedField("org_id") {
		t.Error("expected org_id recognized as the linking field")
	}
}

// --- ruleMessage Tests ---

// ruleSpecimen fails every tag it declares, one violation per field.
type ruleSpecimen struct {
	Name   string `db:"name" validate:"required"`
	Nick   string `db:"nick" validate:"min=3"`
	Bio    string `db:"bio" validate:"max=2"`
	Code   string `db:"code" validate:"len=4"`
	Email  string `db:"email" validate:"email"`
	Tier   string `db:"tier" validate:"oneof=gold silver"`
	Score  int    `db:"score" validate:"gte=10"`
	Budget int    `db:"budget" validate:"lte=5"`
	Token  string `db:"token" validate:"uuid"`
	Count  int    `db:"count" validate:"eq=5"`
}

func TestRuleMessage(t *testing.T) {
	specimen := &ruleSpecimen{
		Nick:   "ab",
		Bio:    "abc",
		Code:   "abc",
		Email:  "nope",
		Tier:   "bronze",
		Score:  1,
		Budget: 9,
		Token:  "zzz",
		Count:  3,
	}
	err := newTagValidator().StructCtx(context.Background(), specimen)
	if err == nil {
		t.Fatal("expected violations")
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected validation errors, got %v", err)
	}

	got := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		got[fe.Field()] = ruleMessage(fe)
	}
	want := map[string]string{
		"name":   "is required",
		"nick":   "must be at least 3",
		"bio":    "must be at most 2",
		"code":   "must have length 4",
		"email":  "must be a valid email address",
		"tier":   "must be one of gold silver",
		"score":  "must be 10 or more",
		"budget": "must be 5 or less",
		"token":  "failed rule uuid",
		"count":  "failed rule eq=5",
	}
	for field, msg := range want {
		if got[field] != msg {
			t.Errorf("expected %s message %q, got %q", field, msg, got[field])
		}
	}
	if len(got) != len(want) {
		t.Errorf("expected %d violations, got %d: %v", len(want), len(got), got)
	}
}

// --- Tag Name Tests ---

func TestTagValidator_KeysByDBName(t *testing.T) {
	specimen := &ruleSpecimen{Score: 50, Budget: 1, Nick: "abc", Bio: "ab",
		Code: "abcd", Email: "ok@example.com", Tier: "gold",
		Token: "123e4567-e89b-12d3-a456-426614174000", Count: 5}
	err := newTagValidator().StructCtx(context.Background(), specimen)
	if err == nil {
		t.Fatal("expected the required violation")
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected validation errors, got %v", err)
	}
	if len(verrs) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(verrs))
	}
	if verrs[0].Field() != "name" {
		t.Errorf("expected violation keyed by db name, got %q", verrs[0].Field())
	}
}
