package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	apiclient "github.com/splax/pado/pkg/api/client"
	"golang.org/x/term"
)

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
}

const defaultAPI = "http://localhost:4000"

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = commandLogin(args)
	case "catalog":
		err = commandCatalog(args)
	case "project":
		err = commandProject(args)
	case "component":
		err = commandComponent(args)
	case "connection":
		err = commandConnection(args)
	case "deploy":
		err = commandDeploy(args)
	case "events":
		err = commandEvents(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// commandLogin stores an access token issued by the identity provider.
func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	token := fs.String("token", "", "Access token (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default "+defaultAPI+")")
	fs.Parse(args)

	secret := strings.TrimSpace(*token)
	if secret == "" {
		fmt.Print("Access token: ")
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		secret = strings.TrimSpace(string(bytes))
	}
	if secret == "" {
		return errors.New("an access token is required")
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	}
	cfg.AccessToken = secret

	client, err := apiclient.New(cfg.APIBaseURL, apiclient.WithToken(secret))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := client.ListProjects(ctx); err != nil {
		return fmt.Errorf("verify token: %w", err)
	}
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("login successful")
	return nil
}

func commandCatalog(args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()
	entries, err := client.Catalog(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s\t%s\t%s\n", e.ResourceType, e.ServiceType, e.Name)
	}
	return nil
}

func commandProject(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: pado project [list|create|show|delete]")
	}
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	switch args[0] {
	case "list":
		projects, err := client.ListProjects(ctx)
		if err != nil {
			return err
		}
		for _, p := range projects {
			fmt.Printf("%s\t%s\t%s\t%s\n", p.ID, p.Name, p.DeploymentStatus, p.RunningStatus)
		}
		return nil
	case "create":
		fs := flag.NewFlagSet("project create", flag.ExitOnError)
		name := fs.String("name", "", "Project name")
		desc := fs.String("description", "", "Optional description")
		fs.Parse(args[1:])
		if strings.TrimSpace(*name) == "" {
			return errors.New("--name is required")
		}
		project, err := client.CreateProject(ctx, apiclient.CreateProjectInput{Name: *name, Description: *desc})
		if err != nil {
			return err
		}
		fmt.Printf("project created: %s (%s)\n", project.ID, project.Name)
		return nil
	case "show":
		projectID, err := requireProject("project show", args[1:])
		if err != nil {
			return err
		}
		detail, err := client.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\t%s\n", detail.ID, detail.Name, detail.DeploymentStatus)
		printTree(detail.Components, 1)
		return nil
	case "delete":
		projectID, err := requireProject("project delete", args[1:])
		if err != nil {
			return err
		}
		if err := client.DeleteProject(ctx, projectID); err != nil {
			return err
		}
		fmt.Println("project deleted")
		return nil
	default:
		return fmt.Errorf("unknown project command: %s", args[0])
	}
}

func printTree(nodes []apiclient.ComponentNode, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, n := range nodes {
		fmt.Printf("%s%s\t%s/%s\tport=%d\t%s\n", indent, n.ID, n.Type, n.Subtype, n.Port, n.DeploymentStatus)
		for _, c := range n.Connections {
			fmt.Printf("%s  -> %s %s %d:%d\n", indent, c.ToComponentID, c.Type, c.FromPort, c.ToPort)
		}
		printTree(n.Children, depth+1)
	}
}

func commandComponent(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: pado component [add|delete|setting]")
	}
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	fs := flag.NewFlagSet("component "+args[0], flag.ExitOnError)
	projectID := fs.String("project", "", "Project identifier")
	componentID := fs.String("component", "", "Component identifier")
	resource := fs.String("resource", "", "Resource type, e.g. EC2")
	service := fs.String("service", "", "Service type, e.g. SPRING")
	parent := fs.String("parent", "", "Existing resource to place the service on")
	port := fs.Int("port", 0, "Setting port")
	setting := fs.String("setting", "{}", "Setting JSON document")
	fs.Parse(args[1:])
	if strings.TrimSpace(*projectID) == "" {
		return errors.New("--project is required")
	}

	switch args[0] {
	case "add":
		created, err := client.AddComponent(ctx, *projectID, apiclient.AddComponentInput{
			ResourceType: *resource,
			ServiceType:  *service,
			ParentID:     *parent,
		})
		if err != nil {
			return err
		}
		fmt.Printf("service %s on resource %s (new=%t)\n", created.Service.ID, created.Resource.ID, created.ResourceIsNew)
		return nil
	case "delete":
		if strings.TrimSpace(*componentID) == "" {
			return errors.New("--component is required")
		}
		if err := client.DeleteComponent(ctx, *projectID, *componentID); err != nil {
			return err
		}
		fmt.Println("component deleted")
		return nil
	case "setting":
		if strings.TrimSpace(*componentID) == "" {
			return errors.New("--component is required")
		}
		saved, err := client.UpdateSetting(ctx, *projectID, *componentID, *port, *setting)
		if err != nil {
			return err
		}
		fmt.Printf("setting version %d saved (port %d)\n", saved.Version, saved.Port)
		return nil
	default:
		return fmt.Errorf("unknown component command: %s", args[0])
	}
}

func commandConnection(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: pado connection [add|delete]")
	}
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	fs := flag.NewFlagSet("connection "+args[0], flag.ExitOnError)
	projectID := fs.String("project", "", "Project identifier")
	from := fs.String("from", "", "Source component")
	to := fs.String("to", "", "Target component")
	connType := fs.String("type", "TCP", "Connection type (TCP|UDP)")
	connectionID := fs.String("connection", "", "Connection identifier")
	fs.Parse(args[1:])
	if strings.TrimSpace(*projectID) == "" || strings.TrimSpace(*from) == "" {
		return errors.New("--project and --from are required")
	}

	switch args[0] {
	case "add":
		if strings.TrimSpace(*to) == "" {
			return errors.New("--to is required")
		}
		conn, err := client.Connect(ctx, *projectID, *from, *to, *connType)
		if err != nil {
			return err
		}
		fmt.Printf("connection %s %s %d -> %d\n", conn.ID, conn.Type, conn.FromPort, conn.ToPort)
		return nil
	case "delete":
		if strings.TrimSpace(*connectionID) == "" {
			return errors.New("--connection is required")
		}
		if err := client.Disconnect(ctx, *projectID, *from, *connectionID); err != nil {
			return err
		}
		fmt.Println("connection deleted")
		return nil
	default:
		return fmt.Errorf("unknown connection command: %s", args[0])
	}
}

func commandDeploy(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: pado deploy [start|stop|list|latest]")
	}
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	fs := flag.NewFlagSet("deploy "+args[0], flag.ExitOnError)
	projectID := fs.String("project", "", "Project identifier")
	limit := fs.Int("limit", 5, "Maximum number of deployments")
	fs.Parse(args[1:])
	if strings.TrimSpace(*projectID) == "" {
		return errors.New("--project is required")
	}

	switch args[0] {
	case "start", "stop":
		var result apiclient.DeployResult
		if args[0] == "start" {
			result, err = client.StartDeployment(ctx, *projectID)
		} else {
			result, err = client.StopDeployment(ctx, *projectID)
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s (deployment %s)\n", result.Message, result.DeploymentID)
		return nil
	case "list":
		deployments, err := client.ListDeployments(ctx, *projectID, *limit)
		if err != nil {
			return err
		}
		for _, dep := range deployments {
			fmt.Printf("%s\t%s\t%s\n", dep.DeploymentID, dep.CreatedBy, dep.CreatedAt.Format(time.RFC3339))
		}
		return nil
	case "latest":
		dep, err := client.LatestDeployment(ctx, *projectID)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(dep, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	default:
		return fmt.Errorf("unknown deploy command: %s", args[0])
	}
}

func commandEvents(args []string) error {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	projectID := fs.String("project", "", "Project identifier")
	limit := fs.Int("limit", 20, "Maximum number of events")
	offset := fs.Int("offset", 0, "Events to skip")
	fs.Parse(args)
	if strings.TrimSpace(*projectID) == "" {
		return errors.New("--project is required")
	}
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	events, err := client.ListEvents(ctx, *projectID, *limit, *offset)
	if err != nil {
		return err
	}
	for _, e := range events {
		fmt.Printf("%s\t%s\t%s\t%s\n", e.CreatedAt.Format(time.RFC3339), e.Kind, e.Status, e.Message)
	}
	return nil
}

func requireProject(name string, args []string) (string, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	projectID := fs.String("project", "", "Project identifier")
	fs.Parse(args)
	if strings.TrimSpace(*projectID) == "" {
		return "", errors.New("--project is required")
	}
	return *projectID, nil
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 15*time.Second)
}

// newClient builds an authenticated client. PADO_API_URL and PADO_TOKEN take
// precedence over the saved config.
func newClient() (*apiclient.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(os.Getenv("PADO_API_URL")); v != "" {
		cfg.APIBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("PADO_TOKEN")); v != "" {
		cfg.AccessToken = v
	}
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errors.New("please login first using 'pado login'")
	}
	return apiclient.New(cfg.APIBaseURL, apiclient.WithToken(cfg.AccessToken))
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: defaultAPI}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPI
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "pado", "config.json"), nil
}

func printUsage() {
	fmt.Printf("pado CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	pado login [--token <jwt>] [--api http://localhost:4000]
	pado catalog
	pado project list
	pado project create --name <name> [--description text]
	pado project show --project <project-id>
	pado project delete --project <project-id>
	pado component add --project <id> --resource EC2 --service SPRING [--parent <resource-id>]
	pado component delete --project <id> --component <id>
	pado component setting --project <id> --component <id> --port 8080 --setting '{"k":"v"}'
	pado connection add --project <id> --from <component> --to <component> [--type TCP|UDP]
	pado connection delete --project <id> --from <component> --connection <id>
	pado deploy start|stop --project <project-id>
	pado deploy list --project <project-id> [--limit N]
	pado deploy latest --project <project-id>
	pado events --project <project-id> [--limit N] [--offset N]
	pado version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
