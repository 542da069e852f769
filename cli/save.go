package main

import (
	"fmt"
	"log"
	"os"

	. "github.com/russross/practicalgrader/types"
	"github.com/spf13/cobra"
)

func CommandSave(cmd *cobra.Command, args []string) {
	mustLoadConfig(cmd)

	if len(args) != 3 {
		cmd.Help()
		os.Exit(1)
	}

	status, err := saveGrade(args[0], args[1], args[2])
	if err != nil {
		log.Fatalf("%v", err)
	}
	if status != "OK" {
		// soft failures come back as a status message
		log.Fatalf("grade not saved: %s", status)
	}
	fmt.Printf("grade %s saved for %s in %s\n", args[2], args[1], args[0])
}

// saveGrade calls the save function and returns its status string.
func saveGrade(activity, email, grade string) (string, error) {
	params := &SaveGradeParams{
		ActivityIDNumber: activity,
		StudentEmail:     email,
		ActivityGrade:    grade,
	}
	var status string
	if err := doRequest("/functions/"+SaveGradeFunction, nil, "POST", params, &status); err != nil {
		return "", err
	}
	return status, nil
}
