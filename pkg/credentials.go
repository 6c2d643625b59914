package pkg

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"golang.org/x/sync/singleflight"

	"ai-proxy/pkg/amslog"
)

const (
	// Nombre de sesión con el que se asume el rol delegado
	credentialSessionName = "ProxySession"

	// Duración solicitada para las credenciales temporales
	credentialDurationSeconds = 3600

	// Margen de seguridad: una entrada deja de servirse este tiempo antes
	// de su expiración real
	credentialSafetyMargin = 300 * time.Second
)

// AssumeRoleAPI es la porción del cliente STS que necesita la caché
type AssumeRoleAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// CredentialEntry son credenciales temporales obtenidas al asumir el rol.
// ExpiresAt es la expiración real que reporta STS; el margen de seguridad
// se aplica al consultar, no al guardar
type CredentialEntry struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ExpiresAt       time.Time
}

// CredentialCache guarda una única entrada de credenciales para el rol
// delegado. Las consultas concurrentes que encuentran la caché vacía o
// caducada colapsan en una sola llamada a STS
type CredentialCache struct {
	roleARN string
	sts     AssumeRoleAPI
	logger  *amslog.Logger
	now     func() time.Time

	mu    sync.RWMutex
	entry *CredentialEntry
	group singleflight.Group
}

// NewCredentialCache crea la caché. Con roleARN vacío la caché queda
// desactivada: Get devuelve nil sin tocar la red y el llamante usa la
// cadena de credenciales por defecto
func NewCredentialCache(roleARN string, api AssumeRoleAPI, logger *amslog.Logger) *CredentialCache {
	return &CredentialCache{
		roleARN: roleARN,
		sts:     api,
		logger:  logger,
		now:     time.Now,
	}
}

// Get devuelve credenciales vigentes para el rol delegado, refrescándolas
// si hace falta. Devuelve nil cuando no hay rol configurado
func (c *CredentialCache) Get(ctx context.Context) (*CredentialEntry, error) {
	if c.roleARN == "" {
		return nil, nil
	}

	c.mu.RLock()
	entry := c.entry
	c.mu.RUnlock()
	if entry != nil && c.valid(entry) {
		return entry, nil
	}

	value, err, _ := c.group.Do("assume-role", func() (interface{}, error) {
		// Revalidar dentro del vuelo único: otro caller pudo refrescar ya
		c.mu.RLock()
		entry := c.entry
		c.mu.RUnlock()
		if entry != nil && c.valid(entry) {
			return entry, nil
		}
		return c.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}

	return value.(*CredentialEntry), nil
}

// valid comprueba si la entrada sigue siendo servible aplicando el margen
// de seguridad sobre la expiración real
func (c *CredentialCache) valid(entry *CredentialEntry) bool {
	return c.now().Before(entry.ExpiresAt.Add(-credentialSafetyMargin))
}

// refresh asume el rol contra STS y guarda la entrada resultante. Si la
// llamada falla, la caché no se modifica
func (c *CredentialCache) refresh(ctx context.Context) (*CredentialEntry, error) {
	output, err := c.sts.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(c.roleARN),
		RoleSessionName: aws.String(credentialSessionName),
		DurationSeconds: aws.Int32(credentialDurationSeconds),
	})
	if err != nil {
		if c.logger != nil {
			c.logger.ErrorContext(ctx, amslog.Event{
				Name:    EventCredentialsError,
				Message: "Failed to assume delegated role",
				Error: &amslog.ErrorInfo{
					Type:    "AssumeRoleError",
					Message: err.Error(),
				},
				Fields: map[string]interface{}{
					"role_arn": c.roleARN,
				},
			})
		}
		return nil, fmt.Errorf("assume role %s: %w", c.roleARN, err)
	}

	credentials := output.Credentials
	entry := &CredentialEntry{
		AccessKeyID:     aws.ToString(credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(credentials.SecretAccessKey),
		SessionToken:    aws.ToString(credentials.SessionToken),
		ExpiresAt:       aws.ToTime(credentials.Expiration),
	}

	c.mu.Lock()
	c.entry = entry
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.InfoContext(ctx, amslog.Event{
			Name:    EventCredentialsRefresh,
			Message: "Delegated role credentials refreshed",
			Fields: map[string]interface{}{
				"role_arn":   c.roleARN,
				"expires_at": entry.ExpiresAt.UTC().Format(time.RFC3339),
			},
		})
	}

	return entry, nil
}
