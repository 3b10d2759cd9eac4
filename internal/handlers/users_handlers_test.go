package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oncokb/backend/internal/models"
)

func TestAdminUserEndpoints(t *testing.T) {
	env := setupTestEnv(t)
	_, adminToken := createTestUser(t, env.db, "root-admin", "password123", models.UserRoleAdmin)
	pending, userToken := createTestUser(t, env.db, "pending-user", "password123", models.UserRoleUser)
	env.db.Model(pending).Update("approved", false)

	t.Run("list requires admin", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/users", nil, authHeaders(userToken))
		assertStatus(t, resp, http.StatusForbidden)
	})

	t.Run("list is paginated and sortable", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/users?page=1&limit=1&sort=login,asc", nil, authHeaders(adminToken))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)

		data, _ := body["data"].([]any)
		if len(data) != 1 {
			t.Fatalf("expected one user on the page, got %d", len(data))
		}
		if first := data[0].(map[string]any); first["login"] != "pending-user" {
			t.Fatalf("expected pending-user first by login, got %v", first["login"])
		}
		pagination := body["pagination"].(map[string]any)
		if pagination["total"] != float64(2) {
			t.Fatalf("expected total 2, got %v", pagination["total"])
		}
	})

	t.Run("get unknown user", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/users/ghost", nil, authHeaders(adminToken))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusNotFound)
		assertEnvelopeError(t, body, "user not found")
	})

	t.Run("update rejects invalid role", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPut, "/api/users/pending-user", map[string]any{
			"role": "superuser",
		}, authHeaders(adminToken))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusBadRequest)
		assertEnvelopeError(t, body, "invalid role")
	})

	t.Run("update license type", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPut, "/api/users/pending-user", map[string]any{
			"licenseType": "HOSPITAL",
		}, authHeaders(adminToken))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		data := body["data"].(map[string]any)
		if data["licenseType"] != "HOSPITAL" {
			t.Fatalf("expected HOSPITAL, got %v", data["licenseType"])
		}
	})

	t.Run("approve issues first token", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodPost, "/api/users/pending-user/approve", nil, authHeaders(adminToken))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)

		data := body["data"].(map[string]any)
		if _, ok := data["token"].(map[string]any); !ok {
			t.Fatalf("expected token on first approval, got %v", data["token"])
		}
		if approved := env.notifier.approvedLogins(); len(approved) != 1 || approved[0] != "pending-user" {
			t.Fatalf("expected approval notification, got %v", approved)
		}
	})

	t.Run("approve again keeps existing tokens", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodPost, "/api/users/pending-user/approve", nil, authHeaders(adminToken))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)

		data := body["data"].(map[string]any)
		if data["token"] != nil {
			t.Fatalf("expected no new token, got %v", data["token"])
		}
	})

	t.Run("admin tokens for user", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodPost, "/api/users/pending-user/tokens", nil, authHeaders(adminToken))
		assertStatus(t, resp, http.StatusCreated)

		resp = performRequest(t, env.app, http.MethodGet, "/api/users/pending-user/tokens", nil, authHeaders(adminToken))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		if tokens, _ := body["data"].([]any); len(tokens) != 2 {
			t.Fatalf("expected two tokens, got %d", len(tokens))
		}
	})

	t.Run("renewal mails verification", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodPost, "/api/users/pending-user/renewal", nil, authHeaders(adminToken))
		assertStatus(t, resp, http.StatusOK)

		last := env.notifier.mails[len(env.notifier.mails)-1]
		if last != models.MailTypeVerifyEmailBeforeAccountExpires {
			t.Fatalf("expected renewal mail, got %s", last)
		}
	})

	t.Run("reset key", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodPost, "/api/users/pending-user/reset-key", nil, authHeaders(adminToken))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)

		key, _ := body["data"].(map[string]any)["resetKey"].(string)
		resp = performJSONRequest(t, env.app, http.MethodPost, "/api/account/reset-password/finish", map[string]any{
			"key":         key,
			"newPassword": "adminreset",
		}, nil)
		assertStatus(t, resp, http.StatusOK)
	})
}

func TestTrialActivationEndpoints(t *testing.T) {
	env := setupTestEnv(t)
	_, adminToken := createTestUser(t, env.db, "trial-admin", "password123", models.UserRoleAdmin)
	createTestUser(t, env.db, "trial-user", "password123", models.UserRoleUser)

	resp := performRequest(t, env.app, http.MethodPost, "/api/users/trial-user/trial", nil, authHeaders(adminToken))
	assertStatus(t, resp, http.StatusOK)
	if len(env.notifier.trials) != 1 {
		t.Fatalf("expected one trial notification, got %d", len(env.notifier.trials))
	}

	var details models.UserDetails
	env.db.Joins("JOIN users ON users.id = user_details.user_id").Where("users.login = ?", "trial-user").First(&details)
	if details.TrialActivationKey == nil {
		t.Fatal("expected a trial activation key")
	}
	key := *details.TrialActivationKey

	t.Run("info", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/account/active-trial/info?key="+key, nil, nil)
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		if body["data"].(map[string]any)["login"] != "trial-user" {
			t.Fatalf("unexpected trial info %v", body["data"])
		}
	})

	t.Run("finish without terms", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/account/active-trial/finish", map[string]any{
			"key":                      key,
			"readAndAgreeWithTheTerms": false,
		}, nil)
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusBadRequest)
		assertEnvelopeError(t, body, "you have to read and agree with the terms")
	})

	t.Run("finish", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/account/active-trial/finish", map[string]any{
			"key":                      key,
			"readAndAgreeWithTheTerms": true,
		}, nil)
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)

		token := body["data"].(map[string]any)["token"].(map[string]any)
		if token["renewable"] != false {
			t.Fatalf("expected trial token to be non-renewable")
		}
	})

	t.Run("key is single use", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/account/active-trial/info?key="+key, nil, nil)
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusBadRequest)
		assertEnvelopeError(t, body, "no user was found for this trial activation key")
	})
}

func TestAdminReportingEndpoints(t *testing.T) {
	env := setupTestEnv(t)
	admin, adminToken := createTestUser(t, env.db, "report-admin", "password123", models.UserRoleAdmin)
	user, _ := createTestUser(t, env.db, "report-user", "password123", models.UserRoleUser)
	token := createTestToken(t, env.db, user.ID, time.Now().Add(24*time.Hour))

	stats := []models.TokenStats{
		{TokenID: token.ID, AccessIP: "10.0.0.1", Resource: "/api/v1/annotate", UsageCount: 3},
		{TokenID: token.ID, AccessIP: "10.0.0.1", Resource: "/api/v1/genes", UsageCount: 2},
	}
	if err := env.db.Create(&stats).Error; err != nil {
		t.Fatalf("failed seeding token stats: %v", err)
	}
	if err := env.db.Create(&models.AuditLog{
		UserID:       &admin.ID,
		Action:       "company.create",
		ResourceType: "company",
	}).Error; err != nil {
		t.Fatalf("failed seeding audit log: %v", err)
	}

	t.Run("token stats list", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/token-stats?userId="+user.ID.String(), nil, authHeaders(adminToken))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		if data, _ := body["data"].([]any); len(data) != 2 {
			t.Fatalf("expected two stats rows, got %d", len(data))
		}
	})

	t.Run("token stats usage count", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/token-stats/usage?tokenId="+token.ID.String(), nil, authHeaders(adminToken))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		if count := body["data"].(map[string]any)["usageCount"]; count != float64(5) {
			t.Fatalf("expected usage count 5, got %v", count)
		}
	})

	t.Run("token stats bad time", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/token-stats?from=yesterday", nil, authHeaders(adminToken))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusBadRequest)
		assertEnvelopeError(t, body, "from must be an RFC 3339 timestamp")
	})

	t.Run("usage without reports", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/usage/users/"+user.ID.String(), nil, authHeaders(adminToken))
		assertStatus(t, resp, http.StatusOK)

		resp = performRequest(t, env.app, http.MethodGet, "/api/usage/users/"+uuid.NewString(), nil, authHeaders(adminToken))
		assertStatus(t, resp, http.StatusNotFound)
	})

	t.Run("resource detail requires endpoint", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/usage/resources", nil, authHeaders(adminToken))
		assertStatus(t, resp, http.StatusBadRequest)
	})

	t.Run("audit log filter", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/audit-log?action=company.create", nil, authHeaders(adminToken))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		if data, _ := body["data"].([]any); len(data) != 1 {
			t.Fatalf("expected one audit row, got %d", len(data))
		}
	})

	t.Run("audit export without storage", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodPost, "/api/audit-log/export", nil, authHeaders(adminToken))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		if exported := body["data"].(map[string]any)["exported"]; exported != float64(0) {
			t.Fatalf("expected nothing exported, got %v", exported)
		}
	})
}
