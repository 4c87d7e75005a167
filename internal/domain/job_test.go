package domain

import "testing"

func TestSubmitQuestRequestValidate(t *testing.T) {
	valid := SubmitQuestRequest{
		JobID:    "abc123",
		CastHash: "0xdeadbeef",
		FID:      194,
		Text:     "gm from the quest",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid request, got error: %v", err)
	}

	missingJobID := valid
	missingJobID.JobID = " "
	if err := missingJobID.Validate(); err == nil {
		t.Fatal("expected validation error for missing job_id")
	}

	missingCast := valid
	missingCast.CastHash = ""
	if err := missingCast.Validate(); err == nil {
		t.Fatal("expected validation error for missing cast_hash")
	}

	badFID := valid
	badFID.FID = 0
	if err := badFID.Validate(); err == nil {
		t.Fatal("expected validation error for fid=0")
	}

	empty := SubmitQuestRequest{JobID: "abc123", CastHash: "0xd", FID: 1}
	if err := empty.Validate(); err == nil {
		t.Fatal("expected validation error when both text and image are empty")
	}

	imageOnly := empty
	imageOnly.ImageURL = "https://imagedelivery.net/some-image"
	if err := imageOnly.Validate(); err != nil {
		t.Fatalf("expected image-only request to be valid, got %v", err)
	}
}
