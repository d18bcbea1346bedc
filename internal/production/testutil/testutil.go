package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/3D-MAGE/app3dmage/internal/middleware"
	"github.com/3D-MAGE/app3dmage/internal/production/entity"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const JWTSecret = "printfarm-test-secret"

// TestEnv holds test environment resources
type TestEnv struct {
	DB     *gorm.DB
	Router *gin.Engine
	T      *testing.T
}

// SetupTestDB opens an isolated SQLite database file per test.
// Settings and the change version row are seeded; the file is removed with t.TempDir.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "printfarm.db")
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	// SQLite 单写者，单连接避免事务间互相等待
	sqlDB.SetMaxOpenConns(1)

	if err := entity.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}
	seed := []interface{}{
		&entity.Setting{Key: entity.SettingEnergyUnitCost, Value: decimal.RequireFromString("0.25"), UpdatedAt: time.Now()},
		&entity.Setting{Key: entity.SettingWearCoefficient, Value: decimal.RequireFromString("0.10"), UpdatedAt: time.Now()},
		&entity.ChangeVersion{ID: entity.ChangeVersionID, UpdatedAt: time.Now()},
	}
	for _, row := range seed {
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("Failed to seed test data: %v", err)
		}
	}

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

// SetupRouter creates a gin test router
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// AuthGroup creates an API group with JWT auth middleware for testing
func AuthGroup(r *gin.Engine, path string) *gin.RouterGroup {
	return r.Group(path, middleware.JWTAuth(JWTSecret))
}

// GenerateTestToken creates a valid JWT token for testing
func GenerateTestToken(userID, name string, roles []string) string {
	if roles == nil {
		roles = []string{}
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"uid":   userID,
		"name":  name,
		"roles": roles,
		"iss":   "printfarm",
		"iat":   now.Unix(),
		"exp":   now.Add(24 * time.Hour).Unix(),
		"jti":   fmt.Sprintf("test-jti-%d", now.UnixNano()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(JWTSecret))
	return tokenString
}

// DefaultTestToken returns a token for the default admin operator
func DefaultTestToken() string {
	return GenerateTestToken("operator-001", "Test Operator", []string{"admin"})
}

// DoRequest executes an HTTP request against the test router
func DoRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse parses the JSON response body into a map
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// SeedMachine creates a printer
func SeedMachine(t *testing.T, db *gorm.DB, name string, watts int) *entity.Machine {
	t.Helper()
	m := &entity.Machine{
		ID:                   uuid.New().String(),
		Name:                 name,
		PowerWatts:           watts,
		LastMaintenanceReset: time.Now().Add(-time.Hour),
		CreatedAt:            time.Now(),
		UpdatedAt:            time.Now(),
	}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("Failed to seed machine: %v", err)
	}
	return m
}

// SeedLot creates a material type (when typeID is empty) and a spool
func SeedLot(t *testing.T, db *gorm.DB, typeID string, initialGrams, cost string) *entity.Lot {
	t.Helper()
	if typeID == "" {
		mt := &entity.MaterialType{ID: uuid.New().String(), Material: "PLA", ColorName: "Nero", CreatedAt: time.Now(), UpdatedAt: time.Now()}
		if err := db.Create(mt).Error; err != nil {
			t.Fatalf("Failed to seed material type: %v", err)
		}
		typeID = mt.ID
	}
	lot := &entity.Lot{
		ID:             uuid.New().String(),
		MaterialTypeID: typeID,
		Identifier:     "A",
		InitialGrams:   decimal.RequireFromString(initialGrams),
		Cost:           decimal.RequireFromString(cost),
		PurchaseDate:   time.Now(),
		Active:         true,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := db.Create(lot).Error; err != nil {
		t.Fatalf("Failed to seed lot: %v", err)
	}
	return lot
}

// SeedJob creates a work order in the given status
func SeedJob(t *testing.T, db *gorm.DB, name, status string, planned int) *entity.Job {
	t.Helper()
	job := &entity.Job{
		ID:         uuid.New().String(),
		Name:       name,
		Priority:   entity.JobPriorityMedium,
		Status:     status,
		PlannedQty: planned,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := db.Create(job).Error; err != nil {
		t.Fatalf("Failed to seed job: %v", err)
	}
	return job
}

// SeedTask creates a print task; machineID may be empty
func SeedTask(t *testing.T, db *gorm.DB, jobID, machineID, status string, durationSeconds int) *entity.Task {
	t.Helper()
	task := &entity.Task{
		ID:              uuid.New().String(),
		JobID:           jobID,
		Name:            "file-" + uuid.New().String()[:8],
		Status:          status,
		DurationSeconds: durationSeconds,
		PerRunQty:       1,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if machineID != "" {
		task.MachineID = &machineID
	}
	if err := db.Omit("Machine", "Usages").Create(task).Error; err != nil {
		t.Fatalf("Failed to seed task: %v", err)
	}
	return task
}

// SeedUsage adds a committed usage row to a task
func SeedUsage(t *testing.T, db *gorm.DB, taskID, lotID, grams string) *entity.MaterialUsage {
	t.Helper()
	u := &entity.MaterialUsage{
		ID:           uuid.New().String(),
		TaskID:       taskID,
		LotID:        lotID,
		PlannedGrams: decimal.RequireFromString(grams),
		Grams:        decimal.RequireFromString(grams),
		CreatedAt:    time.Now(),
	}
	if err := db.Omit("Lot").Create(u).Error; err != nil {
		t.Fatalf("Failed to seed usage: %v", err)
	}
	return u
}

// SeedChannel creates a payment channel
func SeedChannel(t *testing.T, db *gorm.DB, name string, policy entity.FeePolicy) *entity.PaymentChannel {
	t.Helper()
	ch := &entity.PaymentChannel{
		ID:        uuid.New().String(),
		Name:      name,
		FeeKind:   policy.Kind,
		FeeRate:   policy.Rate,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := db.Create(ch).Error; err != nil {
		t.Fatalf("Failed to seed channel: %v", err)
	}
	return ch
}

// SeedBatch creates an inventory batch
func SeedBatch(t *testing.T, db *gorm.DB, jobID *string, name, status string, qty int, material, labor string) *entity.Batch {
	t.Helper()
	b := &entity.Batch{
		ID:           uuid.New().String(),
		JobID:        jobID,
		Name:         name,
		Quantity:     qty,
		Status:       status,
		MaterialCost: decimal.RequireFromString(material),
		LaborCost:    decimal.RequireFromString(labor),
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := db.Omit("Channel").Create(b).Error; err != nil {
		t.Fatalf("Failed to seed batch: %v", err)
	}
	return b
}
