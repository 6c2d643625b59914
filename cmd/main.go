package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"

	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/joho/godotenv"

	"ai-proxy/pkg"
	"ai-proxy/pkg/amslog"
	"ai-proxy/pkg/metrics"
)

// chainMiddlewares aplica middlewares en orden a un handler
func chainMiddlewares(handler http.HandlerFunc, mws ...func(http.Handler) http.Handler) http.HandlerFunc {
	h := http.Handler(handler)
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h.ServeHTTP
}

func main() {
	// Cargar .env si existe. Las variables ya definidas tienen prioridad
	_ = godotenv.Load()

	// Inicializar logger según Política de Logs v1.0
	pkg.InitLogger()
	defer pkg.CloseLogger()

	// Cargar configuración desde variables de entorno
	serverConfig := pkg.LoadServerConfigWithEnv()
	azureConfig := pkg.LoadAzureConfigWithEnv()
	bedrockConfig := pkg.LoadBedrockConfigWithEnv()

	// Log de inicio del servidor
	pkg.Logger.Info(amslog.Event{
		Name:    pkg.EventServerStart,
		Message: "AI Proxy starting",
		Fields: map[string]interface{}{
			"port":       serverConfig.Port,
			"aws_region": bedrockConfig.Region,
		},
	})

	// Verificar que el endpoint de Azure esté configurado
	if azureConfig.Endpoint == "" {
		fmt.Println("Error: Falta el endpoint de Azure OpenAI. Configura la siguiente variable de entorno:")
		fmt.Println("  AZURE_OPENAI_ENDPOINT")
		fmt.Println("\nEjemplo:")
		fmt.Println("  export AZURE_OPENAI_ENDPOINT=https://mi-recurso.openai.azure.com")
		os.Exit(1)
	}

	// Inicializar UsageWorker para el registro asíncrono de consumo
	fmt.Println("📊 Inicializando UsageWorker...")
	usageWorker := metrics.NewUsageWorker(pkg.Logger, pkg.LoadUsageWorkerConfigWithEnv())
	usageWorker.Start()
	defer func() {
		fmt.Println("📊 Deteniendo UsageWorker...")
		usageWorker.Stop()
	}()
	fmt.Println("✅ UsageWorker iniciado")

	// Caché de credenciales del rol delegado (opcional)
	var stsAPI pkg.AssumeRoleAPI
	if bedrockConfig.RoleARN != "" {
		stsCfg, err := awsConfig.LoadDefaultConfig(context.Background(),
			awsConfig.WithRegion(bedrockConfig.Region))
		if err != nil {
			log.Fatalf("Error cargando configuración AWS para STS: %v", err)
		}
		stsAPI = sts.NewFromConfig(stsCfg)
		fmt.Printf("🔐 Rol delegado configurado: %s\n", bedrockConfig.RoleARN)
	} else {
		fmt.Println("ℹ️  AWS_ROLE_ARN no configurado, usando la cadena de credenciales por defecto")
	}
	credentialCache := pkg.NewCredentialCache(bedrockConfig.RoleARN, stsAPI, pkg.Logger)

	// Crear clientes
	azureClient := pkg.NewAzureClient(azureConfig, usageWorker)

	bedrockClient, err := pkg.NewBedrockClient(bedrockConfig, credentialCache, usageWorker)
	if err != nil {
		log.Fatalf("Error creando cliente Bedrock: %v", err)
	}

	agentClient, err := pkg.NewAgentClient(bedrockConfig, credentialCache, usageWorker)
	if err != nil {
		log.Fatalf("Error creando cliente Agent: %v", err)
	}

	// Configurar rutas con middleware de access log
	middlewares := []func(http.Handler) http.Handler{
		amslog.HTTPMiddleware(pkg.Logger),
	}

	http.HandleFunc("/azure/", chainMiddlewares(azureClient.HandleProxy, middlewares...))
	http.HandleFunc("/bedrock/runtime/", chainMiddlewares(bedrockClient.HandleRuntime, middlewares...))
	http.HandleFunc("/bedrock/agent-runtime/", chainMiddlewares(agentClient.HandleAgent, middlewares...))

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"message": "Proxy is running",
		})
	})

	fmt.Printf("🚀 AI Proxy iniciado en puerto %s\n", serverConfig.Port)
	fmt.Printf("📡 Azure OpenAI: http://localhost:%s/azure/{path}\n", serverConfig.Port)
	fmt.Printf("📡 Bedrock Runtime: http://localhost:%s/bedrock/runtime/{Operation}\n", serverConfig.Port)
	fmt.Printf("📡 Bedrock Agent Runtime: http://localhost:%s/bedrock/agent-runtime/{Operation}\n", serverConfig.Port)
	fmt.Printf("🔧 Health check: http://localhost:%s/health\n", serverConfig.Port)
	fmt.Printf("🌍 Región AWS: %s\n", bedrockConfig.Region)

	if bedrockConfig.DEBUG {
		fmt.Println("🐛 Modo DEBUG activado")
	}

	log.Fatal(http.ListenAndServe(":"+serverConfig.Port, nil))
}
