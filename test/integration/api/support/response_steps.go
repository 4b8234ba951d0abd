package support

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/textpipe/internal/document"
	"github.com/MeKo-Tech/textpipe/internal/server"
)

// RegisterResponseSteps registers the assertions on responses.
func (tc *TestContext) RegisterResponseSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the response status should be (\d+)$`, tc.theResponseStatusShouldBe)
	sc.Step(`^the response header "([^"]*)" should be set$`, tc.theResponseHeaderShouldBeSet)
	sc.Step(`^the error should mention "([^"]*)"$`, tc.theErrorShouldMention)
	sc.Step(`^the response should contain (\d+) pages?$`, tc.theResponseShouldContainPages)
	sc.Step(`^page (\d+) should be named "([^"]*)"$`, tc.pageShouldBeNamed)
	sc.Step(`^page (\d+) should contain (\d+) words?$`, tc.pageShouldContainWords)
	sc.Step(`^page (\d+) should have (\d+) blocks?$`, tc.pageShouldHaveBlocks)
	sc.Step(`^page (\d+) should have (\d+) lines?$`, tc.pageShouldHaveLines)
	sc.Step(`^every word should read "([^"]*)"$`, tc.everyWordShouldRead)
	sc.Step(`^page (\d+) should be (\d+) pixels high and (\d+) wide$`, tc.pageDimensions)
	sc.Step(`^page (\d+) language should be "([^"]*)"$`, tc.pageLanguageShouldBe)
	sc.Step(`^page (\d+) orientation should be about (-?\d+) degrees$`, tc.pageOrientationShouldBe)
	sc.Step(`^page (\d+) should report no orientation or language$`, tc.pageShouldReportNoOrientation)
	sc.Step(`^result (\d+) should have (\d+) geometries of (\d+) coordinates$`, tc.resultShouldHaveGeometries)
	sc.Step(`^crop (\d+) should read "([^"]*)"$`, tc.cropShouldRead)
	sc.Step(`^the models should include detection "([^"]*)" and recognition "([^"]*)"$`, tc.theModelsShouldInclude)
	sc.Step(`^the models should not include "([^"]*)"$`, tc.theModelsShouldNotInclude)
	sc.Step(`^the reported backend should be "([^"]*)"$`, tc.theReportedBackendShouldBe)
	sc.Step(`^I should receive results named "([^"]*)"$`, tc.iShouldReceiveResultsNamed)
}

func (tc *TestContext) theResponseStatusShouldBe(status int) error {
	if tc.LastStatus != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, tc.LastStatus, tc.LastBody)
	}
	return nil
}

func (tc *TestContext) theResponseHeaderShouldBeSet(name string) error {
	if tc.LastHeaders.Get(name) == "" {
		return fmt.Errorf("header %s is not set", name)
	}
	return nil
}

func (tc *TestContext) theErrorShouldMention(text string) error {
	var resp server.ErrorResponse
	if err := json.Unmarshal(tc.LastBody, &resp); err != nil {
		return fmt.Errorf("response is not an error body: %w: %s", err, tc.LastBody)
	}
	if !strings.Contains(resp.Error, text) {
		return fmt.Errorf("error %q does not mention %q", resp.Error, text)
	}
	if resp.RequestID == "" {
		return fmt.Errorf("error body has no request id")
	}
	return nil
}

func (tc *TestContext) pages() ([]document.OCROut, error) {
	var out []document.OCROut
	if err := json.Unmarshal(tc.LastBody, &out); err != nil {
		return nil, fmt.Errorf("decode OCR response: %w: %s", err, tc.LastBody)
	}
	return out, nil
}

func (tc *TestContext) page(n int) (document.OCROut, error) {
	pages, err := tc.pages()
	if err != nil {
		return document.OCROut{}, err
	}
	if n < 1 || n > len(pages) {
		return document.OCROut{}, fmt.Errorf("response has %d pages, no page %d", len(pages), n)
	}
	return pages[n-1], nil
}

func (tc *TestContext) theResponseShouldContainPages(n int) error {
	pages, err := tc.pages()
	if err != nil {
		return err
	}
	if len(pages) != n {
		return fmt.Errorf("expected %d pages, got %d", n, len(pages))
	}
	return nil
}

func (tc *TestContext) pageShouldBeNamed(n int, name string) error {
	p, err := tc.page(n)
	if err != nil {
		return err
	}
	if p.Name != name {
		return fmt.Errorf("page %d is named %q, want %q", n, p.Name, name)
	}
	return nil
}

func words(p document.OCROut) []document.WordOut {
	var out []document.WordOut
	for _, item := range p.Items {
		for _, b := range item.Blocks {
			for _, l := range b.Lines {
				out = append(out, l.Words...)
			}
		}
	}
	return out
}

func (tc *TestContext) pageShouldContainWords(n, count int) error {
	p, err := tc.page(n)
	if err != nil {
		return err
	}
	if got := len(words(p)); got != count {
		return fmt.Errorf("page %d has %d words, want %d", n, got, count)
	}
	return nil
}

func (tc *TestContext) pageShouldHaveBlocks(n, count int) error {
	p, err := tc.page(n)
	if err != nil {
		return err
	}
	got := 0
	for _, item := range p.Items {
		got += len(item.Blocks)
	}
	if got != count {
		return fmt.Errorf("page %d has %d blocks, want %d", n, got, count)
	}
	return nil
}

func (tc *TestContext) pageShouldHaveLines(n, count int) error {
	p, err := tc.page(n)
	if err != nil {
		return err
	}
	got := 0
	for _, item := range p.Items {
		for _, b := range item.Blocks {
			got += len(b.Lines)
		}
	}
	if got != count {
		return fmt.Errorf("page %d has %d lines, want %d", n, got, count)
	}
	return nil
}

func (tc *TestContext) everyWordShouldRead(text string) error {
	pages, err := tc.pages()
	if err != nil {
		return err
	}
	for _, p := range pages {
		for _, w := range words(p) {
			if w.Value != text {
				return fmt.Errorf("page %s: word reads %q, want %q", p.Name, w.Value, text)
			}
		}
	}
	return nil
}

func (tc *TestContext) pageDimensions(n, h, w int) error {
	p, err := tc.page(n)
	if err != nil {
		return err
	}
	if p.Dimensions != [2]int{h, w} {
		return fmt.Errorf("page %d is %v, want [%d %d]", n, p.Dimensions, h, w)
	}
	return nil
}

func (tc *TestContext) pageLanguageShouldBe(n int, lang string) error {
	p, err := tc.page(n)
	if err != nil {
		return err
	}
	if p.Language.Value == nil || *p.Language.Value != lang {
		return fmt.Errorf("page %d language is %v, want %q", n, p.Language.Value, lang)
	}
	return nil
}

func (tc *TestContext) pageOrientationShouldBe(n, degrees int) error {
	p, err := tc.page(n)
	if err != nil {
		return err
	}
	if p.Orientation.Value == nil {
		return fmt.Errorf("page %d has no orientation", n)
	}
	if math.Abs(*p.Orientation.Value-float64(degrees)) > 1 {
		return fmt.Errorf("page %d orientation is %.2f, want about %d", n, *p.Orientation.Value, degrees)
	}
	return nil
}

func (tc *TestContext) pageShouldReportNoOrientation(n int) error {
	p, err := tc.page(n)
	if err != nil {
		return err
	}
	if p.Orientation.Value != nil || p.Language.Value != nil {
		return fmt.Errorf("page %d reports orientation %v and language %v", n, p.Orientation.Value, p.Language.Value)
	}
	return nil
}

func (tc *TestContext) resultShouldHaveGeometries(n, count, coords int) error {
	var out []server.DetectionOut
	if err := json.Unmarshal(tc.LastBody, &out); err != nil {
		return fmt.Errorf("decode detection response: %w: %s", err, tc.LastBody)
	}
	if n < 1 || n > len(out) {
		return fmt.Errorf("response has %d results, no result %d", len(out), n)
	}
	geoms := out[n-1].Geometries
	if len(geoms) != count {
		return fmt.Errorf("result %d has %d geometries, want %d", n, len(geoms), count)
	}
	for i, g := range geoms {
		if len(g) != coords {
			return fmt.Errorf("geometry %d has %d coordinates, want %d", i, len(g), coords)
		}
		for _, v := range g {
			if v < 0 || v > 1 {
				return fmt.Errorf("geometry %d is not relative: %v", i, g)
			}
		}
	}
	return nil
}

func (tc *TestContext) cropShouldRead(n int, text string) error {
	var out []server.RecognitionOut
	if err := json.Unmarshal(tc.LastBody, &out); err != nil {
		return fmt.Errorf("decode recognition response: %w: %s", err, tc.LastBody)
	}
	if n < 1 || n > len(out) {
		return fmt.Errorf("response has %d crops, no crop %d", len(out), n)
	}
	if out[n-1].Value != text {
		return fmt.Errorf("crop %d reads %q, want %q", n, out[n-1].Value, text)
	}
	return nil
}

func (tc *TestContext) models() (server.ModelsResponse, error) {
	var resp server.ModelsResponse
	if err := json.Unmarshal(tc.LastBody, &resp); err != nil {
		return resp, fmt.Errorf("decode models response: %w: %s", err, tc.LastBody)
	}
	return resp, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (tc *TestContext) theModelsShouldInclude(det, reco string) error {
	resp, err := tc.models()
	if err != nil {
		return err
	}
	if !contains(resp.Detection, det) {
		return fmt.Errorf("detection models %v lack %s", resp.Detection, det)
	}
	if !contains(resp.Recognition, reco) {
		return fmt.Errorf("recognition models %v lack %s", resp.Recognition, reco)
	}
	return nil
}

func (tc *TestContext) theModelsShouldNotInclude(name string) error {
	resp, err := tc.models()
	if err != nil {
		return err
	}
	if contains(resp.Detection, name) || contains(resp.Recognition, name) {
		return fmt.Errorf("models unexpectedly include %s", name)
	}
	return nil
}

func (tc *TestContext) theReportedBackendShouldBe(backend string) error {
	resp, err := tc.models()
	if err != nil {
		return err
	}
	if resp.Backend != backend {
		return fmt.Errorf("backend is %q, want %q", resp.Backend, backend)
	}
	return nil
}

func (tc *TestContext) iShouldReceiveResultsNamed(list string) error {
	want := strings.Split(list, ",")
	if len(tc.Messages) != len(want) {
		return fmt.Errorf("received %d messages, want %d", len(tc.Messages), len(want))
	}
	for i, msg := range tc.Messages {
		var out document.OCROut
		if err := json.Unmarshal(msg, &out); err != nil {
			return fmt.Errorf("message %d: %w: %s", i+1, err, msg)
		}
		if out.Name != strings.TrimSpace(want[i]) {
			return fmt.Errorf("message %d is named %q (%s), want %q", i+1, out.Name, msg, want[i])
		}
	}
	return nil
}
