package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Confirm prompts the user for a yes/no response on stdin. Used for the
// pre-provision and pre-destroy gates. Anything other than y/yes declines.
func Confirm(question string) (bool, error) {
	return confirm(os.Stdin, question)
}

func confirm(in io.Reader, question string) (bool, error) {
	reader := bufio.NewReader(in)

	fmt.Printf("%s [y/N]: ", question)

	response, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}

	response = strings.TrimSpace(strings.ToLower(response))

	switch response {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// PromptForInstall asks user permission to install missing tools
// Returns true if the user approves installation
func PromptForInstall(missing []DependencyStatus) (bool, error) {
	if len(missing) == 0 {
		return false, nil
	}

	fmt.Println("\nThe following CLI tools are missing or need to be updated:")
	fmt.Println()

	for _, dep := range missing {
		status := "not installed"
		if dep.Installed && dep.Message != "" {
			status = dep.Message
		}
		required := ""
		if dep.Required {
			required = " (required)"
		}
		fmt.Printf("  - %s: %s%s\n", dep.Name, status, required)
	}

	fmt.Println()
	fmt.Println("Shipit can install some of these tools automatically.")
	fmt.Println("Installation may require sudo privileges.")
	fmt.Println()

	return Confirm("Do you want to install the missing tools?")
}

// PrintDependencyStatus prints a summary of dependency status
func PrintDependencyStatus(deps []DependencyStatus) {
	fmt.Println("\nCLI Tool Status:")
	fmt.Println("----------------")

	for _, dep := range deps {
		icon := "+"
		if !dep.Installed {
			icon = "-"
		} else if dep.Message != "" && strings.Contains(dep.Message, "upgrade") {
			icon = "!"
		}

		version := dep.Version
		if version == "" {
			version = "not installed"
		}

		required := ""
		if dep.Required {
			required = " (required)"
		}

		fmt.Printf("  [%s] %s: %s%s\n", icon, dep.Name, version, required)

		if dep.Message != "" {
			fmt.Printf("      %s\n", dep.Message)
		}
	}

	fmt.Println()
}
