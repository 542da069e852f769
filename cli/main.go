package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/blang/semver"
	. "github.com/russross/practicalgrader/types"
	"github.com/spf13/cobra"
)

const (
	perUserDotFile = ".pgraderc"
	urlPrefix      = "/v2"
)

var Config struct {
	Host      string `json:"host"`
	Token     string `json:"token"`
	Cookie    string `json:"cookie"`
	apiReport bool
	apiDump   bool
}

func main() {
	log.SetFlags(0)

	cmdPgrade := &cobra.Command{
		Use:   "pgrade",
		Short: "Command-line interface to the practical grader service",
		Long: "A command-line tool to save practical activity grades\n" +
			"through the practical grader web service",
	}
	cmdPgrade.PersistentFlags().BoolVarP(&Config.apiReport, "api", "", false, "report all API requests")
	cmdPgrade.PersistentFlags().BoolVarP(&Config.apiDump, "api-dump", "", false, "dump API request and response data")

	cmdVersion := &cobra.Command{
		Use:   "version",
		Short: "print the version number of pgrade",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("pgrade " + CurrentVersion.Version)
		},
	}
	cmdPgrade.AddCommand(cmdVersion)

	cmdLogin := &cobra.Command{
		Use:   "login <hostname> <token>",
		Short: "login to a practical grader server",
		Long: fmt.Sprintf("Log in with a web service token issued for the %s service.\n"+
			"The token is saved in ~/%s along with a session cookie.\n\n"+
			"   Example: '%s login grades.example.edu 0123456789abcdef'", ServiceShortName, perUserDotFile, os.Args[0]),
		Run: CommandLogin,
	}
	cmdPgrade.AddCommand(cmdLogin)

	cmdSave := &cobra.Command{
		Use:   "save <activity idnumber> <student email> <grade>",
		Short: "save a grade for one student",
		Long: fmt.Sprintf("Give the idnumber of the activity, the email address of an enrolled\n"+
			"student, and the grade.\n\n"+
			"   Example: '%s save lab-3 stu@example.org 18.5'", os.Args[0]),
		Run: CommandSave,
	}
	cmdPgrade.AddCommand(cmdSave)

	cmdFunctions := &cobra.Command{
		Use:   "functions",
		Short: "list the web service functions offered by the server",
		Run:   CommandFunctions,
	}
	cmdPgrade.AddCommand(cmdFunctions)

	cmdWhoami := &cobra.Command{
		Use:   "whoami",
		Short: "show the user you are logged in as",
		Run:   CommandWhoami,
	}
	cmdPgrade.AddCommand(cmdWhoami)

	cmdPgrade.Execute()
}

func CommandLogin(cmd *cobra.Command, args []string) {
	if len(args) != 2 {
		cmd.Help()
		log.Fatalf("Usage: %s login <hostname> <token>", os.Args[0])
	}
	Config.Host, Config.Token = args[0], args[1]
	Config.Cookie = ""

	// see if they need an upgrade
	mustCheckVersion()

	if err := refreshSession(); err != nil {
		log.Fatalf("login failed: %v", err)
	}

	// try it out by fetching a user record
	user := new(User)
	mustGetObject("/users/me", nil, user)

	// save config for later use
	mustWriteConfig()

	fmt.Printf("login successful; welcome %s\n", user.Username)
}

func CommandWhoami(cmd *cobra.Command, args []string) {
	mustLoadConfig(cmd)
	user := new(User)
	mustGetObject("/users/me", nil, user)
	fmt.Printf("%s <%s> on %s\n", user.Username, user.Email, Config.Host)
}

func CommandFunctions(cmd *cobra.Command, args []string) {
	mustLoadConfig(cmd)
	var functions []*ExternalFunction
	mustGetObject("/functions", nil, &functions)
	for _, function := range functions {
		fmt.Printf("%s (%s): %s\n", function.Name, function.Type, function.Description)
		for _, param := range function.Parameters {
			fmt.Printf("    %-18s %-12s %s\n", param.Name, param.Type, param.Description)
		}
	}
}

func configPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("unable to find home directory: %v", err)
	}
	if home == "" {
		log.Fatalf("home directory is not set")
	}
	return filepath.Join(home, perUserDotFile)
}

func mustLoadConfig(cmd *cobra.Command) {
	configFile := configPath()

	if raw, err := os.ReadFile(configFile); err != nil {
		log.Fatalf("Unable to load config file; try running '%s login'\n", os.Args[0])
	} else if err := json.Unmarshal(raw, &Config); err != nil {
		log.Printf("failed to parse %s: %v", configFile, err)
		log.Fatalf("you may wish to try deleting the file and running '%s login' again\n", os.Args[0])
	}
	if Config.apiDump {
		Config.apiReport = true
	}

	mustCheckVersion()
}

func mustWriteConfig() {
	configFile := configPath()

	raw, err := json.MarshalIndent(&Config, "", "    ")
	if err != nil {
		log.Fatalf("JSON error encoding config file: %v", err)
	}
	raw = append(raw, '\n')

	// the file holds a token
	if err = os.WriteFile(configFile, raw, 0600); err != nil {
		log.Fatalf("error writing %s: %v", configFile, err)
	}
}

func mustCheckVersion() {
	if err := checkVersion(); err != nil {
		log.Printf("%v", err)
		log.Fatalf("  you must upgrade to continue")
	}
}

// checkVersion compares this client with the versions the server asks for.
// A recommended upgrade is only reported; a required one is an error.
func checkVersion() error {
	server := new(Version)
	if err := doRequest("/version", nil, "GET", nil, server); err != nil {
		return err
	}
	current := semver.MustParse(CurrentVersion.Version)
	required, err := semver.Parse(server.PgradeVersionRequired)
	if err != nil {
		return fmt.Errorf("server sent a bad required version %q: %w", server.PgradeVersionRequired, err)
	}
	if required.GT(current) {
		return fmt.Errorf("this is pgrade version %s, but the server requires %s or higher", CurrentVersion.Version, server.PgradeVersionRequired)
	}
	recommended, err := semver.Parse(server.PgradeVersionRecommended)
	if err == nil && recommended.GT(current) {
		log.Printf("this is pgrade version %s, but the server recommends %s or higher", CurrentVersion.Version, server.PgradeVersionRecommended)
		log.Printf("  please upgrade as soon as possible")
	}
	return nil
}
