// Command hybridrag-chat is a terminal client for the hybridrag API. It
// uploads a PDF (or reuses an upload id) and keeps a conversation about it.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/smallnest/hybridrag/client"
	"github.com/smallnest/hybridrag/prebuilt"
	"github.com/smallnest/hybridrag/service"
)

var (
	apiURL       = flag.String("url", "http://localhost:8080/api/v1", "API root")
	uploadID     = flag.String("uuid", "", "Id of an existing upload")
	pdfFile      = flag.String("file", "", "PDF to upload before chatting")
	instructions = flag.String("instructions", "", "Extra system instructions, separated by ';'")
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).MarginBottom(1)
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	answerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1).
			Width(88)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	hintStyle  = lipgloss.NewStyle().Faint(true)
)

func main() {
	flag.Parse()
	ctx := context.Background()
	c := client.New(*apiURL, nil)

	id := *uploadID
	if *pdfFile != "" {
		var err error
		id, err = c.Upload(ctx, *pdfFile)
		if err != nil {
			fail(err)
		}
		fmt.Println(hintStyle.Render("uploaded " + *pdfFile + " as " + id + "; it is usable once embedding finishes"))
	}
	if id == "" {
		fail(fmt.Errorf("either -uuid or -file is required"))
	}

	var instr []string
	for _, s := range strings.Split(*instructions, ";") {
		if s = strings.TrimSpace(s); s != "" {
			instr = append(instr, s)
		}
	}

	fmt.Println(titleStyle.Render("hybridrag chat · " + id))
	fmt.Println(hintStyle.Render("empty line or /quit to exit"))

	var history []prebuilt.Turn
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(promptStyle.Render("you › "))
		if !scanner.Scan() {
			return
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" || question == "/quit" {
			return
		}

		resp, err := c.Query(ctx, service.QueryRequest{
			UUID:         id,
			Question:     question,
			Instructions: instr,
			ChatHistory:  history,
		})
		if err != nil {
			fmt.Println(errorStyle.Render(err.Error()))
			continue
		}
		fmt.Println(answerStyle.Render(resp.Answer))
		history = append(history, prebuilt.Turn{Human: question, Assistant: resp.Answer})
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
	os.Exit(1)
}
