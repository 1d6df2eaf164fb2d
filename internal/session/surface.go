package session

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/chromedp/chromedp"
)

// challengeMarker is the heading text that identifies the verification gate.
const challengeMarker = "驗證碼檢核"

// Challenge element locations on the verification page. The layout is a
// fixed table, so absolute paths are the stable way to address it.
const (
	challengePanelXPath = "/html/body/div/div[2]/div/div/div[3]/div/div[4]/form/table[1]"
	confirmButtonXPath  = `//input[@value='確認送出']`
	orgSearchInputXPath = "/html/body/div/div[2]/div/div[2]/div/form/table/tbody/tr/td[1]/input"
)

// cardXPath addresses the clickable card image at the given grid index.
func cardXPath(index int) string {
	return fmt.Sprintf(
		"/html/body/div/div[2]/div/div/div[3]/div/div[4]/form/table[1]/tbody/tr[2]/td/table/tbody/tr/td[2]/table/tbody/tr/td[%d]/label/img",
		index+1)
}

// ChallengeVisible probes the rendered page for the gate marker.
func (d *Driver) ChallengeVisible(ctx context.Context) (bool, error) {
	var visible bool
	script := fmt.Sprintf("document.body.innerText.indexOf(%q) !== -1", challengeMarker)
	if err := d.run(ctx, chromedp.Evaluate(script, &visible)); err != nil {
		return false, fmt.Errorf("probe challenge marker: %w", err)
	}
	return visible, nil
}

// CaptureChallenge screenshots the challenge panel as one image; the solver
// segments it into question strip and card row.
func (d *Driver) CaptureChallenge(ctx context.Context) (image.Image, error) {
	var buf []byte
	if err := d.run(ctx, chromedp.Screenshot(challengePanelXPath, &buf, chromedp.BySearch)); err != nil {
		return nil, fmt.Errorf("capture challenge panel: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("decode challenge capture: %w", err)
	}
	return img, nil
}

// SelectCard clicks the card at the given grid index.
func (d *Driver) SelectCard(ctx context.Context, index int) error {
	if err := d.run(ctx, chromedp.Click(cardXPath(index), chromedp.BySearch)); err != nil {
		return fmt.Errorf("click card %d: %w", index, err)
	}
	return nil
}

// ConfirmSelection submits the chosen cards.
func (d *Driver) ConfirmSelection(ctx context.Context) error {
	if err := d.run(ctx, chromedp.Click(confirmButtonXPath, chromedp.BySearch)); err != nil {
		return fmt.Errorf("click confirm: %w", err)
	}
	return nil
}

// Reshuffle reloads the page so the next attempt sees a fresh challenge.
func (d *Driver) Reshuffle(ctx context.Context) error {
	err := d.run(ctx,
		chromedp.Reload(),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("reload challenge: %w", err)
	}
	return nil
}
